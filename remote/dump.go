package remote

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// DumpPlan writes a zstd-compressed, human-readable snapshot of the
// topology bookkeeping and any derived interfaces to w. The output is a
// diagnostic artifact for offline inspection of a rank's communication
// plan; decompress with any zstd tool.
func DumpPlan(w io.Writer, ri *RemoteIndices, ifaces ...*Interface) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("remote: dump encoder: %w", err)
	}

	if _, err := io.WriteString(zw, ri.String()); err != nil {
		zw.Close()
		return fmt.Errorf("remote: dump: %w", err)
	}
	for _, iface := range ifaces {
		if _, err := io.WriteString(zw, iface.String()); err != nil {
			zw.Close()
			return fmt.Errorf("remote: dump: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("remote: dump flush: %w", err)
	}
	return nil
}
