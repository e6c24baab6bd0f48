package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"

	"github.com/tidwall/gjson"
)

type AttachmentService struct {
	client *Client
}

type CreateAttachmentParams struct {
	MessageID string
	FileURL   string
	FileName  string
	FileType  string
	FileSize  int64
}

type createAttachmentBody struct {
	MessageID any    `json:"message_id"`
	FileURL   string `json:"file_url"`
	FileName  string `json:"file_name,omitempty"`
	FileType  string `json:"file_type"`
	FileSize  int64  `json:"file_size,omitempty"`
}

// Create records an already uploaded file against a message.
func (s *AttachmentService) Create(ctx context.Context, params CreateAttachmentParams) (Attachment, error) {
	if err := requireID(params.MessageID); err != nil {
		return Attachment{}, err
	}
	body, err := s.client.do(ctx, request{
		method: http.MethodPost,
		path:   "/attachments/",
		body: createAttachmentBody{
			MessageID: idValue(params.MessageID),
			FileURL:   params.FileURL,
			FileName:  params.FileName,
			FileType:  params.FileType,
			FileSize:  params.FileSize,
		},
	})
	if err != nil {
		return Attachment{}, err
	}
	return decodeAttachment(gjson.ParseBytes(body)), nil
}

func (s *AttachmentService) ForMessage(ctx context.Context, messageID string) ([]Attachment, error) {
	if err := requireID(messageID); err != nil {
		return nil, err
	}
	body, err := s.client.do(ctx, request{method: http.MethodGet, path: fmt.Sprintf("/attachments/message/%s/all", messageID)})
	if err != nil {
		return nil, err
	}
	return decodeList(body, decodeAttachment), nil
}

// File is one local file headed for the upload endpoint.
type File struct {
	Name        string
	ContentType string
	Content     io.Reader
}

// Upload posts the file as multipart form data to the upload endpoint and
// returns where it now lives. Extra form fields travel alongside it.
func (s *AttachmentService) Upload(ctx context.Context, f File, fields map[string]string) (Upload, error) {
	c := s.client
	if c.uploadURL == "" {
		return Upload{}, ErrNoUploadURL
	}

	data, err := io.ReadAll(io.LimitReader(f.Content, c.maxUploadBytes+1))
	if err != nil {
		return Upload{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > c.maxUploadBytes {
		return Upload{}, ErrFileTooLarge
	}

	contentType := f.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return Upload{}, err
		}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(f.Name)))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return Upload{}, err
	}
	if _, err := part.Write(data); err != nil {
		return Upload{}, err
	}
	if err := w.Close(); err != nil {
		return Upload{}, err
	}

	body, err := c.do(ctx, request{
		method:      http.MethodPost,
		url:         c.uploadURL,
		path:        "upload",
		rawBody:     buf.Bytes(),
		contentType: w.FormDataContentType(),
	})
	if err != nil {
		return Upload{}, err
	}

	r := gjson.ParseBytes(body)
	up := Upload{
		FileURL:  r.Get("fileUrl").String(),
		FileName: r.Get("fileName").String(),
		FileType: r.Get("fileType").String(),
		FileSize: r.Get("fileSize").Int(),
	}
	if up.FileURL == "" {
		up.FileURL = r.Get("file_url").String()
	}
	if up.FileName == "" {
		up.FileName = filepath.Base(f.Name)
	}
	if up.FileType == "" {
		up.FileType = contentType
	}
	if up.FileSize == 0 {
		up.FileSize = int64(len(data))
	}
	return up, nil
}
