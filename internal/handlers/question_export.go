package handlers

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/elmedianur/deutsche/internal/services"
)

const csvOptionColumns = 4

var csvHeader = []string{"topic", "question", "option1", "option2", "option3", "option4", "correct"}

type ExportOption struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

type ExportQuestion struct {
	Topic   string         `json:"topic,omitempty"`
	Text    string         `json:"text"`
	Options []ExportOption `json:"options"`
}

type ExportData struct {
	Questions []ExportQuestion `json:"questions"`
}

type ImportResponse struct {
	Imported int `json:"imported_questions"`
}

// ExportQuestions writes the pool as JSON, or as CSV with ?format=csv.
// Only the first four options of a question fit a CSV row.
func (h *QuestionHandler) ExportQuestions(c *gin.Context) {
	questions, err := h.questions.ListQuestions(c.Request.Context(), c.Query("topic"))
	if err != nil {
		writeError(c, err)
		return
	}

	data := ExportData{Questions: make([]ExportQuestion, 0, len(questions))}
	for _, q := range questions {
		eq := ExportQuestion{Topic: q.Topic, Text: q.Text}
		for _, o := range q.Options {
			eq.Options = append(eq.Options, ExportOption{Text: o.Text, IsCorrect: o.IsCorrect})
		}
		data.Questions = append(data.Questions, eq)
	}

	if c.DefaultQuery("format", "json") == "csv" {
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", `attachment; filename="questions.csv"`)
		c.Status(http.StatusOK)

		rows := [][]string{csvHeader}
		for _, q := range data.Questions {
			row := make([]string, len(csvHeader))
			row[0] = q.Topic
			row[1] = q.Text
			for i, o := range q.Options {
				if i < csvOptionColumns {
					row[2+i] = o.Text
				}
				if o.IsCorrect {
					row[6] = strconv.Itoa(i + 1)
				}
			}
			rows = append(rows, row)
		}
		// the status is already sent; the request logger reports the error
		if err := csv.NewWriter(c.Writer).WriteAll(rows); err != nil {
			c.Error(err)
		}
		return
	}

	c.Header("Content-Disposition", `attachment; filename="questions.json"`)
	c.JSON(http.StatusOK, data)
}

// ImportQuestions adds questions from an uploaded file or the request body.
// CSV is recognised by a .csv file name or a text/csv content type. The
// import is all or nothing.
func (h *QuestionHandler) ImportQuestions(c *gin.Context) {
	body, isCSV, err := readImport(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	var data ExportData
	if isCSV {
		data, err = parseCSV(body)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
	} else if err := json.Unmarshal(body, &data); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	if len(data.Questions) == 0 {
		badRequest(c, "no questions to import")
		return
	}

	count, err := h.questions.ImportQuestions(c.Request.Context(), importToServiceInput(data))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ImportResponse{Imported: count})
}

func readImport(c *gin.Context) ([]byte, bool, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			return nil, false, fmt.Errorf("file required")
		}
		defer file.Close()
		body, err := io.ReadAll(file)
		if err != nil {
			return nil, false, fmt.Errorf("cannot read file")
		}
		return body, strings.HasSuffix(strings.ToLower(header.Filename), ".csv"), nil
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, false, fmt.Errorf("cannot read body")
	}
	return body, c.ContentType() == "text/csv", nil
}

func parseCSV(data []byte) (ExportData, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return ExportData{}, fmt.Errorf("invalid CSV: %w", err)
	}
	if len(records) < 2 {
		return ExportData{}, fmt.Errorf("CSV must have header + at least 1 row")
	}

	var out ExportData
	for i, row := range records[1:] {
		if len(row) < len(csvHeader) {
			return ExportData{}, fmt.Errorf("row %d: want %d columns, got %d", i+2, len(csvHeader), len(row))
		}
		correct, err := strconv.Atoi(strings.TrimSpace(row[6]))
		if err != nil {
			return ExportData{}, fmt.Errorf("row %d: correct must be an option number", i+2)
		}

		q := ExportQuestion{
			Topic: strings.TrimSpace(row[0]),
			Text:  strings.TrimSpace(row[1]),
		}
		for j := 0; j < csvOptionColumns; j++ {
			text := strings.TrimSpace(row[2+j])
			if text == "" {
				continue
			}
			q.Options = append(q.Options, ExportOption{Text: text, IsCorrect: j+1 == correct})
		}
		out.Questions = append(out.Questions, q)
	}
	return out, nil
}

func importToServiceInput(data ExportData) []services.QuestionInput {
	inputs := make([]services.QuestionInput, 0, len(data.Questions))
	for i, q := range data.Questions {
		input := services.QuestionInput{Topic: q.Topic, Text: q.Text, OrderNum: i}
		for _, o := range q.Options {
			input.Options = append(input.Options, services.OptionInput{Text: o.Text, IsCorrect: o.IsCorrect})
		}
		inputs = append(inputs, input)
	}
	return inputs
}
