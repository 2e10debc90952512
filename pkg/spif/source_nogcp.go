//go:build !gcp

package spif

import (
	"context"
	"fmt"
)

func newGCSSourceFromEnv(ctx context.Context) (Source, error) {
	return nil, fmt.Errorf("GCS policy source is not enabled in this build (use -tags gcp)")
}
