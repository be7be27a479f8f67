// Package gdrive uploads session exports to a Google Drive folder.
package gdrive

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const documentMimeType = "application/vnd.google-apps.document"

// Uploader converts each export into a Google Doc in one folder. Uploading a
// name again updates the same document.
type Uploader struct {
	service  *drive.Service
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewUploader(ctx context.Context, credPath, folderID string) (*Uploader, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	return newUploader(ctx, folderID, option.WithCredentials(config))
}

func newUploader(ctx context.Context, folderID string, opts ...option.ClientOption) (*Uploader, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Uploader{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}, nil
}

// Upload sends the file at localPath as the document called name and returns
// its Drive file id.
func (u *Uploader) Upload(ctx context.Context, localPath, name string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	if fileID, ok := u.fileIDs[name]; ok {
		if _, err := u.service.Files.Update(fileID, &drive.File{}).Media(f).Context(ctx).Do(); err != nil {
			return "", fmt.Errorf("drive update %s: %w", name, err)
		}
		return fileID, nil
	}

	file := &drive.File{Name: name, MimeType: documentMimeType}
	if u.folderID != "" {
		file.Parents = []string{u.folderID}
	}
	doc, err := u.service.Files.Create(file).Media(f).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive create %s: %w", name, err)
	}

	u.fileIDs[name] = doc.Id
	return doc.Id, nil
}
