package out

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"pocus/internal/modules/upload/domain"
	uploadout "pocus/internal/modules/upload/port/out"
	apperrors "pocus/internal/platform/errors"
	"pocus/internal/platform/retry"
)

const tusVersion = "1.0.0"

// TUSTransport is a client for the tus 1.0.0 core protocol plus the creation
// and termination extensions.
type TUSTransport struct {
	endpoint   string
	anonKey    string
	HTTPClient *http.Client
}

func NewTUSTransport(endpoint, anonKey string) *TUSTransport {
	return &TUSTransport{
		endpoint: endpoint,
		anonKey:  anonKey,
		HTTPClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

var _ uploadout.Transport = (*TUSTransport)(nil)

func (t *TUSTransport) Create(ctx context.Context, task domain.Task) (string, error) {
	metadata, err := encodeMetadata(task)
	if err != nil {
		return "", retry.Permanent(err)
	}
	req, err := t.request(ctx, http.MethodPost, t.endpoint, task, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Upload-Length", strconv.FormatInt(task.Size, 10))
	req.Header.Set("Upload-Metadata", metadata)
	if task.Upsert {
		req.Header.Set("x-upsert", "true")
	}
	resp, err := t.do(req)
	if err != nil {
		return "", err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", statusError("create", resp)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("%w: create answered without a location", apperrors.ErrTransport)
	}
	return resolve(t.endpoint, location)
}

func (t *TUSTransport) Offset(ctx context.Context, task domain.Task) (int64, error) {
	req, err := t.request(ctx, http.MethodHead, task.UploadURL, task, nil)
	if err != nil {
		return 0, err
	}
	resp, err := t.do(req)
	if err != nil {
		return 0, err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return 0, statusError("offset", resp)
	}
	return parseOffset(resp)
}

func (t *TUSTransport) Patch(ctx context.Context, task domain.Task, offset int64, chunk []byte) (int64, error) {
	req, err := t.request(ctx, http.MethodPatch, task.UploadURL, task, bytes.NewReader(chunk))
	if err != nil {
		return 0, err
	}
	req.ContentLength = int64(len(chunk))
	req.Header.Set("Content-Type", "application/offset+octet-stream")
	req.Header.Set("Upload-Offset", strconv.FormatInt(offset, 10))
	resp, err := t.do(req)
	if err != nil {
		return 0, err
	}
	defer drain(resp)
	if resp.StatusCode == http.StatusConflict {
		return 0, uploadout.ErrOffsetMismatch
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return 0, statusError("patch", resp)
	}
	return parseOffset(resp)
}

func (t *TUSTransport) Terminate(ctx context.Context, task domain.Task) error {
	req, err := t.request(ctx, http.MethodDelete, task.UploadURL, task, nil)
	if err != nil {
		return err
	}
	resp, err := t.do(req)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return statusError("terminate", resp)
	}
	return nil
}

func (t *TUSTransport) request(ctx context.Context, method, target string, task domain.Task, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build %s %s: %w", method, target, err))
	}
	req.Header.Set("Tus-Resumable", tusVersion)
	req.Header.Set("Authorization", "Bearer "+task.Token)
	if t.anonKey != "" {
		req.Header.Set("apikey", t.anonKey)
	}
	return req, nil
}

func (t *TUSTransport) do(req *http.Request) (*http.Response, error) {
	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s %s: %v", apperrors.ErrTransport, req.Method, req.URL.Path, err)
	}
	return resp, nil
}

// statusError classifies an unexpected answer. Server trouble is retryable,
// other client errors are not.
func statusError(step string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusLocked:
		return fmt.Errorf("%w: %s answered %d: %s", apperrors.ErrTransport, step, resp.StatusCode, msg)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return retry.Permanent(fmt.Errorf("%w: %s answered %d: %s", apperrors.ErrAuthRequired, step, resp.StatusCode, msg))
	default:
		return retry.Permanent(fmt.Errorf("%w: %s answered %d: %s", apperrors.ErrUploadFailed, step, resp.StatusCode, msg))
	}
}

func parseOffset(resp *http.Response) (int64, error) {
	raw := resp.Header.Get("Upload-Offset")
	offset, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("%w: bad Upload-Offset %q", apperrors.ErrTransport, raw)
	}
	return offset, nil
}

// encodeMetadata builds the Upload-Metadata header: comma separated
// "key base64(value)" pairs, sorted for stable output.
func encodeMetadata(task domain.Task) (string, error) {
	custom := task.Metadata
	if custom == nil {
		custom = map[string]any{}
	}
	encoded, err := json.Marshal(custom)
	if err != nil {
		return "", fmt.Errorf("encode upload metadata: %w", err)
	}
	pairs := map[string]string{
		"bucketName":    task.Bucket,
		"objectName":    task.ObjectName,
		"contentType":   task.ContentType,
		"cacheControl":  task.CacheControl,
		"metadata":      string(encoded),
		"studyId":       task.StudyID.String(),
		"institutionId": task.InstitutionID.String(),
		"taskId":        task.ID.String(),
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+base64.StdEncoding.EncodeToString([]byte(pairs[k])))
	}
	return strings.Join(parts, ","), nil
}

// DecodeMetadata parses an Upload-Metadata header.
func DecodeMetadata(header string) (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(header) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(header, ",") {
		key, value, _ := strings.Cut(strings.TrimSpace(pair), " ")
		if key == "" {
			return nil, fmt.Errorf("empty metadata key")
		}
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("metadata %s: %w", key, err)
		}
		out[key] = string(decoded)
	}
	return out, nil
}

func resolve(base, location string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("parse endpoint: %w", err))
	}
	l, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: bad location %q", apperrors.ErrTransport, location)
	}
	return b.ResolveReference(l).String(), nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
