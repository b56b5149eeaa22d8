package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/catalog"
	"github.com/dmitrijs2005/ledgersync/internal/client/snapshot"
	"github.com/dmitrijs2005/ledgersync/internal/client/store"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/cryptox"
	"github.com/dmitrijs2005/ledgersync/internal/filex"
	"github.com/dmitrijs2005/ledgersync/internal/models"
	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// now is a test seam for stamps the console writes into domain fields.
var now = time.Now

func (a *App) AddClient(ctx context.Context, args []string) error {
	cnic, name := args[0], strings.Join(args[1:], " ")
	if name == "" {
		var err error
		if name, err = GetSimpleText(a.reader, "Client name", a.out); err != nil {
			return err
		}
	}

	clients, err := a.engine.Collection(catalog.Clients)
	if err != nil {
		return err
	}
	rec, err := clients.CreateWith(ctx, map[string]any{"cnic": cnic, "name": name},
		[]string{catalog.Notifications},
		func(ctx context.Context, tx *store.Tx, rec *models.Record) error {
			return tx.Put(ctx, catalog.Notifications, &models.Record{
				ID: uuid.NewString(),
				Fields: map[string]any{
					"clientCnic": cnic,
					"message":    fmt.Sprintf("client %s registered", name),
				},
			})
		})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Client added:", rec.ID)
	return nil
}

func (a *App) AddReceipt(ctx context.Context, args []string) error {
	cnic := args[0]
	amount, err := parseAmount(args[1])
	if err != nil {
		return err
	}
	issuedOn := now().Format(dateLayout)
	if len(args) > 2 {
		if _, err := time.Parse(dateLayout, args[2]); err != nil {
			return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", args[2])
		}
		issuedOn = args[2]
	}
	if err := a.requireClient(ctx, cnic); err != nil {
		return err
	}

	receipts, err := a.engine.Collection(catalog.Receipts)
	if err != nil {
		return err
	}
	rec, err := receipts.Create(ctx, map[string]any{"clientCnic": cnic, "amount": amount, "issuedOn": issuedOn})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Receipt added:", rec.ID)
	return nil
}

func (a *App) AddExpense(ctx context.Context, args []string) error {
	cnic := args[0]
	amount, err := parseAmount(args[1])
	if err != nil {
		return err
	}
	if err := a.requireClient(ctx, cnic); err != nil {
		return err
	}

	expenses, err := a.engine.Collection(catalog.Expenses)
	if err != nil {
		return err
	}
	rec, err := expenses.Create(ctx, map[string]any{
		"clientCnic":  cnic,
		"amount":      amount,
		"description": strings.Join(args[2:], " "),
		"spentOn":     now().Format(dateLayout),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Expense added:", rec.ID)
	return nil
}

func (a *App) List(ctx context.Context, args []string) error {
	repo, err := a.engine.Collection(args[0])
	if err != nil {
		return err
	}
	recs, err := repo.GetAll(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(a.out, "(empty)")
		return nil
	}
	for _, rec := range recs {
		fmt.Fprintln(a.out, formatRecord(rec))
	}
	return nil
}

func (a *App) Show(ctx context.Context, args []string) error {
	repo, err := a.engine.Collection(args[0])
	if err != nil {
		return err
	}
	rec, err := repo.Get(ctx, args[1])
	if err != nil {
		return err
	}
	return printJSON(a.out, rec)
}

func (a *App) FindClient(ctx context.Context, args []string) error {
	clients, err := a.engine.Collection(catalog.Clients)
	if err != nil {
		return err
	}
	rec, err := clients.GetByKey(ctx, args[0])
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Fprintln(a.out, "No client with CNIC", args[0])
		return nil
	}
	fmt.Fprintln(a.out, formatRecord(rec))
	return nil
}

func (a *App) RenameClient(ctx context.Context, args []string) error {
	clients, err := a.engine.Collection(catalog.Clients)
	if err != nil {
		return err
	}
	rec, err := clients.Get(ctx, args[0])
	if err != nil {
		return err
	}
	rec.Fields["name"] = strings.Join(args[1:], " ")
	if err := clients.Update(ctx, rec); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Client updated:", rec.ID)
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	repo, err := a.engine.Collection(args[0])
	if err != nil {
		return err
	}
	if err := repo.Delete(ctx, args[1]); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Deleted:", args[1])
	return nil
}

func (a *App) Status(ctx context.Context) error {
	st, err := a.engine.GetSyncStatus(ctx)
	if err != nil {
		return err
	}
	last := "never"
	if st.LastSyncAt != nil {
		last = st.LastSyncAt.Local().Format(time.RFC3339)
	}
	mode := a.Mode()
	if mode == ModeUnknown {
		mode = "unknown"
	}

	fmt.Fprintf(a.out, "Device:        %s\n", st.DeviceID)
	fmt.Fprintf(a.out, "Connectivity:  %s\n", mode)
	fmt.Fprintf(a.out, "Sync state:    %s\n", st.State)
	fmt.Fprintf(a.out, "Queued:        %d\n", st.Queued)
	for _, name := range sortedKeys(st.QueuedByCollection) {
		fmt.Fprintf(a.out, "  %-12s %d\n", name, st.QueuedByCollection[name])
	}
	fmt.Fprintf(a.out, "Last sync:     %s\n", last)
	if st.LastError != "" {
		fmt.Fprintf(a.out, "Last error:    %s (%d consecutive)\n", st.LastError, st.ConsecutiveFailures)
	}
	return nil
}

func (a *App) Sync(ctx context.Context) error {
	rep, err := a.engine.Sync(ctx)
	fmt.Fprintf(a.out, "Pushed %d, stale %d, failed %d, remaining %d\n", rep.Pushed, rep.Stale, rep.Failed, rep.Remaining)
	return err
}

func (a *App) Resync(ctx context.Context, args []string) error {
	force := len(args) > 0 && args[0] == "force"
	rep, err := a.engine.Resync(ctx, force)
	if err != nil {
		if errors.Is(err, common.ErrPendingMutations) {
			return fmt.Errorf("%w (use 'resync force' to discard them)", err)
		}
		return err
	}
	for _, name := range sortedKeys(rep.Collections) {
		c := rep.Collections[name]
		fmt.Fprintf(a.out, "%-14s pulled %d, kept local %d, discarded %d\n", name, c.Pulled, c.KeptLocal, c.Discarded)
	}
	return nil
}

func (a *App) Export(ctx context.Context, args []string) error {
	blob, err := a.engine.ExportSnapshot(ctx)
	if err != nil {
		return err
	}
	if len(args) > 1 && args[1] == "seal" {
		pass, err := GetPassword(a.out)
		if err != nil {
			return err
		}
		defer common.WipeByteArray(pass)
		if blob, err = snapshot.Seal(blob, pass); err != nil {
			return err
		}
	}
	if err := filex.WriteFileAtomic(args[0], blob, 0o600); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Snapshot written to", args[0])
	return nil
}

func (a *App) Import(ctx context.Context, args []string) error {
	blob, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var pass []byte
	if cryptox.IsSealed(blob) {
		if pass, err = GetPassword(a.out); err != nil {
			return err
		}
		defer common.WipeByteArray(pass)
	}
	if blob, err = snapshot.Unseal(blob, pass); err != nil {
		return err
	}
	doc, err := a.engine.ImportSnapshot(ctx, blob)
	if err != nil {
		return err
	}
	printCounts(a.out, doc)
	return nil
}

func (a *App) Backup(ctx context.Context, args []string) error {
	pass, err := GetPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pass)
	if err := a.engine.Backup(ctx, args[0], pass); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Backup uploaded:", args[0])
	return nil
}

func (a *App) Restore(ctx context.Context, args []string) error {
	pass, err := GetPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pass)
	doc, err := a.engine.Restore(ctx, args[0], pass)
	if err != nil {
		return err
	}
	printCounts(a.out, doc)
	return nil
}

func (a *App) requireClient(ctx context.Context, cnic string) error {
	clients, err := a.engine.Collection(catalog.Clients)
	if err != nil {
		return err
	}
	rec, err := clients.GetByKey(ctx, cnic)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no client with CNIC %s", cnic)
	}
	return nil
}

func parseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
