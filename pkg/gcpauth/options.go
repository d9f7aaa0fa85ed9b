// Package gcpauth turns the GCP config block into client options shared by
// the Pub/Sub and BigQuery clients.
package gcpauth

import (
	"errors"
	"strings"

	"google.golang.org/api/option"

	"github.com/angelmondragon/gridpay-backend/pkg/config"
)

var ErrProjectIDRequired = errors.New("gcp project id is required")

// Resolve returns the project id and credential options. Inline JSON wins
// over a credentials file; with neither, Application Default Credentials
// apply.
func Resolve(cfg config.GCPConfig) (string, []option.ClientOption, error) {
	project := strings.TrimSpace(cfg.ProjectID)
	if project == "" {
		return "", nil, ErrProjectIDRequired
	}
	if js := strings.TrimSpace(cfg.CredentialsJSON); js != "" {
		return project, []option.ClientOption{option.WithCredentialsJSON([]byte(js))}, nil
	}
	if path := strings.TrimSpace(cfg.ApplicationCredentials); path != "" {
		return project, []option.ClientOption{option.WithCredentialsFile(path)}, nil
	}
	return project, nil, nil
}
