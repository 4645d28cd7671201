package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (api *API) GetFile(ctx context.Context, fileID string) (*File, error) {
	var f File
	if err := api.call(ctx, "getFile", map[string]any{"file_id": fileID}, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// DownloadFileTo fetches the file behind fileID into destPath.
func (api *API) DownloadFileTo(ctx context.Context, fileID, destPath string) error {
	f, err := api.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if f.FilePath == "" {
		return fmt.Errorf("telegram getFile: empty file_path for %q", fileID)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", api.baseURL, api.token, f.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := api.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &RequestError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// UploadDocument sends a local file as a document, streaming the multipart
// body through a pipe so large exports never sit in memory.
func (api *API) UploadDocument(ctx context.Context, chatID int64, threadID int64, path, caption string) (*Message, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := writer.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
				return err
			}
			if threadID != 0 {
				if err := writer.WriteField("message_thread_id", strconv.FormatInt(threadID, 10)); err != nil {
					return err
				}
			}
			if caption != "" {
				if err := writer.WriteField("caption", caption); err != nil {
					return err
				}
			}
			part, err := writer.CreateFormFile("document", filepath.Base(path))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, src); err != nil {
				return err
			}
			return writer.Close()
		}()
		pw.CloseWithError(err)
	}()

	url := fmt.Sprintf("%s/bot%s/sendDocument", api.baseURL, api.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := api.http.Do(req)
	if err != nil {
		return nil, err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	var parsed apiResponse
	_ = json.Unmarshal(raw, &parsed)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !parsed.OK {
		return nil, &RequestError{
			StatusCode:  resp.StatusCode,
			ErrorCode:   parsed.ErrorCode,
			Description: parsed.Description,
			Body:        strings.TrimSpace(string(raw)),
		}
	}
	var msg Message
	if err := json.Unmarshal(parsed.Result, &msg); err != nil {
		return nil, fmt.Errorf("telegram sendDocument: decode result: %w", err)
	}
	return &msg, nil
}
