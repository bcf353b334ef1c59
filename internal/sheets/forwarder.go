package sheets

import (
	"context"
	"log"
	"time"

	"classroll/internal/queue"
)

// Labels written to the spreadsheet.
const (
	LabelPresent  = "Presente"
	LabelAbsent   = "Ausente"
	LabelSource   = "Sincronização Automática"
	unknownPupil  = "Desconhecido"
	unknownGroup  = "Desconhecida"
	fallbackStamp = "02/01/2006 15:04:05"
)

// Names resolves ids to display names.
type Names interface {
	StudentName(ctx context.Context, id string) (string, error)
	ClassName(ctx context.Context, id string) (string, error)
}

// Appender writes one spreadsheet row.
type Appender interface {
	Append(ctx context.Context, values []any) error
}

// LogAppender prints rows instead of sending them; used when no spreadsheet is
// configured.
type LogAppender struct {
	Log *log.Logger
}

// Append logs the row.
func (a LogAppender) Append(_ context.Context, values []any) error {
	a.Log.Printf("sheet row (dry run): %v", values)
	return nil
}

// Forwarder turns attendance changes into spreadsheet rows.
type Forwarder struct {
	Names Names
	Sheet Appender
	Log   *log.Logger
	Now   func() time.Time
}

// Row builds the spreadsheet row for one change.
func Row(studentName, className string, present bool, date string, now time.Time) []any {
	status := LabelPresent
	if !present {
		status = LabelAbsent
	}
	if date == "" {
		date = now.Format(fallbackStamp)
	}
	return []any{studentName, className, status, date, LabelSource}
}

// Forward resolves names and appends the row. Unresolvable names fall back to
// placeholders rather than failing the row.
func (f Forwarder) Forward(ctx context.Context, change queue.AttendanceChange) error {
	student, err := f.Names.StudentName(ctx, change.StudentID)
	if err != nil || student == "" {
		f.logf("student %s name lookup: %v", change.StudentID, err)
		student = unknownPupil
	}
	class, err := f.Names.ClassName(ctx, change.ClassID)
	if err != nil || class == "" {
		f.logf("class %s name lookup: %v", change.ClassID, err)
		class = unknownGroup
	}

	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	return f.Sheet.Append(ctx, Row(student, class, change.Present, change.Date, now()))
}

// Run forwards every attendance message of q until ctx ends. done, when set,
// is called with the result of each message.
func (f Forwarder) Run(ctx context.Context, q queue.Queue, done func(error)) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		if msg.Type != queue.TypeAttendance {
			f.logf("skipping %q message", msg.Type)
			continue
		}
		change, err := msg.Decode()
		if err == nil {
			err = f.Forward(ctx, change)
		}
		if err != nil {
			f.logf("forward attendance change failed: %v", err)
		}
		if done != nil {
			done(err)
		}
	}
	return nil
}

// Open returns a Client when cfg names a spreadsheet and its service account,
// and a LogAppender otherwise.
func Open(cfg Config, logger *log.Logger) (Appender, error) {
	if cfg.SpreadsheetID == "" || cfg.ClientEmail == "" || cfg.PrivateKeyPEM == "" {
		return LogAppender{Log: logger}, nil
	}
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (f Forwarder) logf(format string, args ...any) {
	if f.Log != nil {
		f.Log.Printf(format, args...)
	}
}
