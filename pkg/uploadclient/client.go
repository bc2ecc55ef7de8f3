// Package uploadclient drives chunked uploads against the mod file API.
package uploadclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/go-resty/resty/v2"
	"github.com/modvault/modvault/pkg/clog"
	"github.com/modvault/modvault/pkg/moddb/modmodel"
	"github.com/pkg/errors"
)

// ServerError is an answer with success false. Status is the HTTP status code.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// Retryable reports whether sending the same request again could succeed.
func (e *ServerError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusConflict || e.Status == http.StatusTooManyRequests
}

type Client struct {
	r   *resty.Client
	log log.Interface
}

type response struct {
	Success   bool               `json:"success"`
	Message   interface{}        `json:"message"`
	ChunkSize int64              `json:"chunk_size"`
	Chunks    int                `json:"chunks"`
	Files     []modmodel.ModFile `json:"files"`
}

func (r *response) message() string {
	if s, ok := r.Message.(string); ok {
		return s
	}

	return ""
}

// NewClient creates a client for the server at baseURL authenticating with apikey.
func NewClient(baseURL, apikey string, logger log.Interface) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetHeader("apikey", apikey).
		SetHeader("Accept", "application/json").
		SetTimeout(5 * time.Minute)

	return &Client{r: r, log: clog.For(logger, "upload-client")}
}

func (c *Client) post(req *resty.Request, url string) (*response, error) {
	var result response
	resp, err := req.SetResult(&result).SetError(&result).Post(url)
	if err != nil {
		return nil, err
	}

	if resp.IsError() || !result.Success {
		msg := result.message()
		if msg == "" {
			msg = resp.Status()
		}
		return nil, &ServerError{Status: resp.StatusCode(), Message: msg}
	}

	return &result, nil
}

type slotInfo struct {
	ID        string
	ChunkSize int64
}

func (c *Client) createUploadSlot(ctx context.Context, modID int, fileType, name string, size int64) (*slotInfo, error) {
	req := c.r.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"type": fileType, "size": size, "name": name})

	result, err := c.post(req, fmt.Sprintf("/api/mods/%d/create-upload-slot", modID))
	if err != nil {
		return nil, err
	}

	if result.message() == "" {
		return nil, errors.New("server did not return a slot id")
	}

	return &slotInfo{ID: result.message(), ChunkSize: result.ChunkSize}, nil
}

// uploadChunk returns the temporary file URL once the server reports the upload complete.
func (c *Client) uploadChunk(ctx context.Context, modID int, slotID string, index int, chunk io.Reader) (string, error) {
	req := c.r.R().
		SetContext(ctx).
		SetQueryParam("slot", slotID).
		SetQueryParam("chunk_index", strconv.Itoa(index)).
		SetFileReader("chunk", "blob", chunk)

	result, err := c.post(req, fmt.Sprintf("/api/mods/%d/upload-file-chunk", modID))
	if err != nil {
		return "", err
	}

	return result.message(), nil
}

// Attachment mirrors the body entries of a mod files save.
type Attachment struct {
	Slot string `json:"slot"`
	Type string `json:"type"`
}

// SaveModFiles attaches completed uploads to a mod and deletes files from it.
func (c *Client) SaveModFiles(ctx context.Context, modID int, attach []Attachment, deleteIDs []int) ([]modmodel.ModFile, error) {
	if deleteIDs == nil {
		deleteIDs = []int{}
	}

	req := c.r.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"attach": attach, "delete": deleteIDs})

	result, err := c.post(req, fmt.Sprintf("/api/mods/%d/files", modID))
	if err != nil {
		return nil, err
	}

	return result.Files, nil
}

// AbandonSlot asks the server to drop an upload that won't be finished.
func (c *Client) AbandonSlot(ctx context.Context, modID int, slotID string) error {
	var result response
	resp, err := c.r.R().
		SetContext(ctx).
		SetResult(&result).
		SetError(&result).
		Delete(fmt.Sprintf("/api/mods/%d/upload-slots/%s", modID, slotID))
	if err != nil {
		return err
	}

	if resp.IsError() || !result.Success {
		return &ServerError{Status: resp.StatusCode(), Message: result.message()}
	}

	return nil
}
