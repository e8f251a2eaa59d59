package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/photobook-be/internal/queue"
)

// DecodeJobCursor parses a cursor produced by EncodeJobCursor. An empty string
// yields a nil cursor.
func DecodeJobCursor(cursorStr string) (*queue.Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.SplitN(string(decoded), "|", 2)
	if len(decodedParts) != 2 || decodedParts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	if _, err := fmt.Sscanf(decodedParts[0], "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	return &queue.Cursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		JobID:     decodedParts[1],
	}, nil
}

func EncodeJobCursor(job *queue.Job) string {
	cs := fmt.Sprintf("%d|%s", job.CreatedAt.UnixNano(), job.ID)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}
