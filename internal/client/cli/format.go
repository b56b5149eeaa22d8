package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/snapshot"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/cryptox"
	"github.com/dmitrijs2005/ledgersync/internal/models"
)

func formatRecord(rec *models.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s", rec.ID, rec.LastModified.Local().Format(time.DateTime))
	for _, k := range sortedKeys(rec.Fields) {
		fmt.Fprintf(&b, "  %s=%v", k, rec.Fields[k])
	}
	return b.String()
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func printCounts(w io.Writer, doc *snapshot.Document) {
	counts := doc.Counts()
	fmt.Fprintf(w, "Imported snapshot of device %s taken %s\n", doc.DeviceID, doc.ExportedAt.Local().Format(time.DateTime))
	for _, name := range sortedKeys(counts) {
		fmt.Fprintf(w, "  %-14s %d\n", name, counts[name])
	}
}

// describe turns engine errors into operator-facing messages.
func describe(err error) string {
	switch {
	case errors.Is(err, common.ErrConstraintViolation):
		return "duplicate value: " + err.Error()
	case errors.Is(err, common.ErrNotFound):
		return "not found"
	case errors.Is(err, common.ErrTransportFailure):
		return "server unreachable, changes stay queued: " + err.Error()
	case errors.Is(err, cryptox.ErrDecrypt):
		return "wrong passphrase or damaged snapshot"
	default:
		return err.Error()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
