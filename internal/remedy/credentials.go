package remedy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// LoadCredentials reads envFile (if present) into the process environment
// without overriding variables that are already set, then returns the value
// of envVar. A missing envFile is not an error; an empty result is left for
// the caller to judge, since local endpoints accept any key.
func LoadCredentials(envFile, envVar string) (string, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	if envVar == "" {
		return "", nil
	}
	return os.Getenv(envVar), nil
}
