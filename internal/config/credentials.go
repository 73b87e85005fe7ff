package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Credentials are the object storage access keys for one run. They are passed
// explicitly to the storage client and never exported to the environment.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// IsZero reports whether no keys were supplied, in which case the SDK's
// default credential chain applies.
func (c Credentials) IsZero() bool {
	return c.AccessKeyID == "" && c.SecretAccessKey == ""
}

// String never prints the secret.
func (c Credentials) String() string {
	if c.IsZero() {
		return "credentials(default chain)"
	}
	return fmt.Sprintf("credentials(%s)", maskKey(c.AccessKeyID))
}

// LoadCredentials reads a KEY=VALUE credentials file such as:
//
//	[AWS]
//	AWS_ACCESS_KEY_ID=...
//	AWS_SECRET_ACCESS_KEY=...
//
// Section headers and ';' comments are ignored. A missing file yields zero
// credentials; a file with only one of the two keys is an error.
func LoadCredentials(path string) (Credentials, error) {
	if path == "" {
		return Credentials{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, nil
		}
		return Credentials{}, fmt.Errorf("failed to open credentials file: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "[") || strings.HasPrefix(line, ";") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return Credentials{}, fmt.Errorf("failed to read credentials file: %w", err)
	}

	values, err := godotenv.Unmarshal(b.String())
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to parse credentials file: %w", err)
	}

	creds := Credentials{
		AccessKeyID:     values["AWS_ACCESS_KEY_ID"],
		SecretAccessKey: values["AWS_SECRET_ACCESS_KEY"],
		SessionToken:    values["AWS_SESSION_TOKEN"],
	}
	if (creds.AccessKeyID == "") != (creds.SecretAccessKey == "") {
		return Credentials{}, fmt.Errorf("credentials file %s must set both AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY", path)
	}
	return creds, nil
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", len(key)-4)
}
