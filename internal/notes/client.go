package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Record is a stored dictation: the uploaded audio, its transcript, and
// the notes the service generated from them.
type Record struct {
	ID         string `json:"_id"`
	PatientID  string `json:"patient_id"`
	DoctorID   string `json:"doctor_id"`
	AudioURL   string `json:"s3_url"`
	SOAPNotes  string `json:"soap_notes"`
	Transcript string `json:"transcript"`
	CreatedAt  string `json:"created_at"`
}

// Client talks to the clinical notes backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Uploads carry whole recordings; give them room.
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// GenerateFromRecording uploads the session's WAV artifact and
// transcript and returns the generated note record.
func (c *Client) GenerateFromRecording(ctx context.Context, audioPath, transcript, patientID, doctorID string) (*Record, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	fields := map[string]string{
		"patient_id": patientID,
		"doctor_id":  doctorID,
		"transcript": transcript,
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("build upload: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/record/generate-soap", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.doRecord(req)
}

// GenerateFromURL asks the backend to generate notes from media it can
// already reach, instead of uploading bytes.
func (c *Client) GenerateFromURL(ctx context.Context, mediaURL, transcript, patientID, doctorID string) (*Record, error) {
	payload, err := json.Marshal(map[string]string{
		"media_url":  mediaURL,
		"patient_id": patientID,
		"doctor_id":  doctorID,
		"transcript": transcript,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/record/generate-soap", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRecord(req)
}

func (c *Client) doRecord(req *http.Request) (*Record, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &rec, nil
}

// FetchRecords lists previously generated records for a clinician.
func (c *Client) FetchRecords(ctx context.Context, doctorID string) ([]Record, error) {
	payload, err := json.Marshal(map[string]string{"doctor_id": doctorID})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/record/fetch-record", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var records []Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return records, nil
}
