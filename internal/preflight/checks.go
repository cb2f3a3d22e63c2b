package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"vidrelay/internal/deps"
	"vidrelay/internal/services/converter"
)

// StatusFetcher is the part of the converter client the remote check needs.
type StatusFetcher interface {
	FetchStatus(ctx context.Context) ([]string, error)
}

// CheckRemote verifies that the conversion service answers the status
// endpoint with a well-formed payload. It uses a single attempt.
func CheckRemote(ctx context.Context, client StatusFetcher) Result {
	const name = "Conversion service"

	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	names, err := client.FetchStatus(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: summarizeRemoteError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("reachable (%d converted files listed)", len(names))}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func fromDependency(status deps.Status) Result {
	result := Result{Name: status.Name, Passed: status.Available, Optional: status.Optional}
	switch {
	case status.Available:
		result.Detail = status.Resolved
	case status.Optional:
		result.Detail = status.Detail + " (subtitle extraction will be skipped)"
	default:
		result.Detail = status.Detail
	}
	return result
}

func summarizeRemoteError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "status check timed out (service unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "status check timed out (service unreachable)"
	}
	var statusErr *converter.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("status endpoint returned http %d", statusErr.StatusCode)
	}
	return err.Error()
}
