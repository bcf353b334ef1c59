package csvimport

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "semicolon header skips numeric rows",
			text: "Nome do Aluno;Turma\nMaria Silva;5A\n12;5A\n",
			want: []string{"Maria Silva"},
		},
		{
			name: "no header falls back to first column",
			text: "Ana\nBruno\n",
			want: []string{"Ana", "Bruno"},
		},
		{
			name: "header below a title block",
			text: "Escola Municipal\r\nLista de chamada 2024\r\n\r\nNº,Nome,Idade\r\n1,Carla Souza,11\r\n2,Davi Lima,12\r\n",
			want: []string{"Carla Souza", "Davi Lima"},
		},
		{
			name: "tab separated english header",
			text: "id\tStudent Name\n7\tEvelyn Park\n8\tFrank Ocean\n",
			want: []string{"Evelyn Park", "Frank Ocean"},
		},
		{
			name: "header containing the phrase",
			text: "Turma;Nome do aluno (completo)\n6A;Gabriela\n",
			want: []string{"Gabriela"},
		},
		{
			name: "quoted fields lose one layer of quotes",
			text: "Nome\n\"Helena Rocha\"\n'Igor Alves'\n\"\"João\"\"\n",
			want: []string{"Helena Rocha", "Igor Alves", "\"João\""},
		},
		{
			name: "short and empty names are dropped",
			text: "Nome;Turma\nLi;6A\n;6A\nLuís;6A\n",
			want: []string{"Luís"},
		},
		{
			name: "rows shorter than the name column are skipped",
			text: "Turma;Nome\n6A\n6A;Marcos\n",
			want: []string{"Marcos"},
		},
		{
			name: "duplicates are kept in file order",
			text: "Nome\nNina\nOtto\nNina\n",
			want: []string{"Nina", "Otto", "Nina"},
		},
		{
			name: "no header uses comma column zero",
			text: "Paulo Reis;6A\nQuitéria,7B\n",
			want: []string{"Paulo Reis;6A", "Quitéria"},
		},
		{
			name: "empty file",
			text: "\n\r\n  \n",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Names(tt.text))
		})
	}
}

func TestSniffPriority(t *testing.T) {
	h := Sniff([]string{"Nome,Turma;Nome do Aluno"})
	require.True(t, h.Found)
	assert.Equal(t, ";", h.Sep)
	assert.Equal(t, 1, h.Column)

	h = Sniff([]string{"x,y", "a\tnome"})
	require.True(t, h.Found)
	assert.Equal(t, 1, h.Line)
	assert.Equal(t, "\t", h.Sep)
	assert.Equal(t, 1, h.Column)
}

func TestSniffStopsAfterScanLimit(t *testing.T) {
	lines := make([]string, 0, HeaderScanLimit+1)
	for i := 0; i < HeaderScanLimit; i++ {
		lines = append(lines, "Filler Row")
	}
	lines = append(lines, "Nome")

	assert.False(t, Sniff(lines).Found)
	names := Names(strings.Join(lines, "\n"))
	assert.Len(t, names, HeaderScanLimit+1)
	assert.Equal(t, "Nome", names[HeaderScanLimit])
}

func TestNumericDetection(t *testing.T) {
	assert.True(t, numeric("123"))
	assert.True(t, numeric("12.5"))
	assert.True(t, numeric("1e3"))
	assert.False(t, numeric("NaN"))
	assert.False(t, numeric("Inf"))
	assert.False(t, numeric("12B"))

	assert.True(t, numeric("0x1A"))
	assert.True(t, numeric("0b101"))
	assert.True(t, numeric("0o17"))
	assert.True(t, numeric("Infinity"))
	assert.True(t, numeric("-Infinity"))
	assert.False(t, numeric("+-Infinity"))
	assert.False(t, numeric("-0x1A"))
	assert.False(t, numeric("0x1p3"))
	assert.False(t, numeric("0xZZ"))
	assert.False(t, numeric("Oxford"))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestRead(t *testing.T) {
	names, err := Read(strings.NewReader("Nome do Aluno;Turma\nRita;6A\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Rita"}, names)

	_, err = Read(failingReader{})
	assert.Error(t, err)
}

func TestReadDropsByteOrderMark(t *testing.T) {
	names, err := Read(strings.NewReader("\ufeffNome;Turma\nMaria Silva;5A\nJoão Souza;5A\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Maria Silva", "João Souza"}, names)

	assert.Equal(t, []string{"Maria Silva"}, Names("\ufeffNome;Turma\nMaria Silva;5A\n"))

	// UTF-16LE with BOM, as written by "Unicode text" exports
	utf16 := []byte{0xFF, 0xFE}
	for _, r := range "Nome\nRita Lee\n" {
		utf16 = append(utf16, byte(r), 0)
	}
	names, err = Read(bytes.NewReader(utf16))
	require.NoError(t, err)
	assert.Equal(t, []string{"Rita Lee"}, names)
}
