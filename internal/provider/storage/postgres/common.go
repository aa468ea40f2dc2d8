package postgres

import (
	"context"
	"fmt"
	"strings"
)

var validConfigKeywords = []string{
	"dbname",
	"user",
	"password",
	"host",
	"port",
	"sslmode",
	"connect_timeout",
}

func generateConnString(ctx context.Context, config map[string]interface{}) (string, error) {
	var sb strings.Builder

	for _, key := range validConfigKeywords {
		if value, ok := config[key]; ok {
			cfgPart := fmt.Sprintf("%s=%v ", key, value)
			if _, err := sb.WriteString(cfgPart); err != nil {
				return "", err
			}
		}
	}

	connStr := sb.String()
	return connStr, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS registry_record (
	registry   TEXT          NOT NULL,
	name       TEXT          NOT NULL,
	id         NUMERIC(20,0) NOT NULL,
	created_at TIMESTAMPTZ   NOT NULL DEFAULT now(),
	PRIMARY KEY (registry, name)
)`
