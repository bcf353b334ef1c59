// Package api exposes the attendance store over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"classroll/internal/attendance"
	"classroll/internal/csvimport"
	"classroll/internal/roster"
)

// User-facing messages of the CSV import.
const (
	msgNoNames     = `Nenhum nome válido encontrado. Verifique se a coluna "Nome do Aluno" existe.`
	msgImportFail  = "Falha ao processar o arquivo CSV."
	msgImportedFmt = "%d alunos importados com sucesso!"
)

// Checker reports whether a dependency is reachable.
type Checker interface {
	Healthy(ctx context.Context) bool
}

// Handler serves the JSON API.
type Handler struct {
	Store          *attendance.Store
	Log            *log.Logger
	MaxUploadBytes int64
	// Checks are reported by /healthz under their key.
	Checks map[string]Checker
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.healthz)

	v1 := r.Group("/v1", h.requireLoaded)
	v1.GET("/classes", h.listClasses)
	v1.GET("/classes/:id/students", h.listStudents)
	v1.GET("/classes/:id/attendance/:date", h.attendance)

	v1.POST("/classes", h.createClass)
	v1.PATCH("/classes/:id", h.renameClass)
	v1.DELETE("/classes/:id", h.deleteClass)
	v1.POST("/classes/:id/students", h.addStudent)
	v1.POST("/classes/:id/import", h.importStudents)
	v1.POST("/classes/:id/attendance/:date/toggle", h.toggle)
	v1.DELETE("/students/:id", h.deleteStudent)
	v1.POST("/students/delete", h.deleteStudents)
}

func (h *Handler) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok", "loading": h.Store.Loading()}
	for name, check := range h.Checks {
		ok := check.Healthy(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (h *Handler) requireLoaded(c *gin.Context) {
	if h.Store.Loading() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "loading"})
		return
	}
	c.Next()
}

type nameRequest struct {
	Name string `json:"name"`
}

// bindName reads {"name": ...} and rejects blank names.
func bindName(c *gin.Context) (string, bool) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return "", false
	}
	return name, true
}

func (h *Handler) listClasses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"classes": h.Store.ClassSummaries()})
}

func (h *Handler) createClass(c *gin.Context) {
	name, ok := bindName(c)
	if !ok {
		return
	}
	class, err := h.Store.CreateClass(c.Request.Context(), name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, class)
}

func (h *Handler) renameClass(c *gin.Context) {
	name, ok := bindName(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := h.Store.RenameClass(c.Request.Context(), id, name); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, roster.Class{ID: id, Name: name})
}

func (h *Handler) deleteClass(c *gin.Context) {
	if err := h.Store.DeleteClass(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listStudents(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.Store.Class(id); !ok {
		h.fail(c, attendance.ErrNotFound)
		return
	}
	students := h.Store.Students(id)
	if students == nil {
		students = []roster.Student{}
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (h *Handler) addStudent(c *gin.Context) {
	name, ok := bindName(c)
	if !ok {
		return
	}
	st, added, err := h.Store.AddStudent(c.Request.Context(), c.Param("id"), name)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !added {
		c.JSON(http.StatusOK, gin.H{"added": false, "message": "student already in class"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"added": true, "student": st})
}

func (h *Handler) importStudents(c *gin.Context) {
	if h.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)
	}

	var src io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()
		src = file
	}

	names, err := csvimport.Read(src)
	if err != nil {
		h.Log.Printf("csv import read failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": msgImportFail})
		return
	}
	if len(names) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": msgNoNames})
		return
	}

	created, err := h.Store.ImportStudents(c.Request.Context(), c.Param("id"), names)
	if err != nil {
		h.fail(c, err)
		return
	}
	if created == nil {
		created = []roster.Student{}
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  fmt.Sprintf(msgImportedFmt, len(names)),
		"parsed":   len(names),
		"imported": len(created),
		"students": created,
	})
}

func (h *Handler) deleteStudent(c *gin.Context) {
	if err := h.Store.DeleteStudent(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteStudents(c *gin.Context) {
	var req struct {
		IDs []string `json:"ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Store.DeleteStudents(c.Request.Context(), req.IDs); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) attendance(c *gin.Context) {
	classID, date := c.Param("id"), c.Param("date")
	if !roster.ValidDate(date) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	if _, ok := h.Store.Class(classID); !ok {
		h.fail(c, attendance.ErrNotFound)
		return
	}

	rec, ok := h.Store.AttendanceForDate(classID, date)
	if !ok {
		rec = roster.AttendanceRecord{Date: date, ClassID: classID, Records: map[string]bool{}}
	}
	roll := h.Store.Roll(classID, date)
	if roll == nil {
		roll = []roster.RollEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"record": rec, "roll": roll})
}

func (h *Handler) toggle(c *gin.Context) {
	classID, date := c.Param("id"), c.Param("date")
	if !roster.ValidDate(date) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	present, err := h.Store.ToggleAttendance(c.Request.Context(), classID, req.StudentID, date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student_id": req.StudentID, "date": date, "present": present})
}

// fail maps store errors to status codes.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, attendance.ErrRemote):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		h.Log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
