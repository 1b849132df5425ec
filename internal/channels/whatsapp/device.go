package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	. "github.com/roelfdiedericks/clawrelay/internal/logging"
	"github.com/roelfdiedericks/clawrelay/internal/monitor"
)

// waLogger bridges whatsmeow's waLog.Logger to our L_* functions
type waLogger struct {
	module string
}

func (l *waLogger) Debugf(msg string, args ...interface{}) {
	L_trace(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}

func (l *waLogger) Infof(msg string, args ...interface{}) {
	L_debug(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}

func (l *waLogger) Warnf(msg string, args ...interface{}) {
	L_warn(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}

func (l *waLogger) Errorf(msg string, args ...interface{}) {
	L_error(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}

func (l *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{module: l.module + "/" + module}
}

// openContainer opens the whatsmeow device database at dbPath and upgrades
// its schema. The caller owns the returned *sql.DB.
func openContainer(ctx context.Context, dbPath string, log waLog.Logger) (*sql.DB, *sqlstore.Container, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open whatsapp db: %w", err)
	}

	container := sqlstore.NewWithDB(db, "sqlite3", log)
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to upgrade whatsapp store: %w", err)
	}
	return db, container, nil
}

// openDevice returns the first paired device. A missing database or an
// unpaired store is reported as monitor.ErrLoggedOut so the supervisor stops
// instead of retrying.
func openDevice(ctx context.Context, dbPath string) (*sql.DB, *store.Device, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("%w: no whatsapp session database at %s, pair a device first", monitor.ErrLoggedOut, dbPath)
	}

	db, container, err := openContainer(ctx, dbPath, &waLogger{module: "store"})
	if err != nil {
		return nil, nil, err
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to get whatsapp device: %w", err)
	}
	if device == nil || device.ID == nil {
		db.Close()
		return nil, nil, fmt.Errorf("%w: no whatsapp device paired in %s, pair a device first", monitor.ErrLoggedOut, dbPath)
	}
	return db, device, nil
}

// DeviceStatus writes the pairing status of the device store at dbPath.
func DeviceStatus(ctx context.Context, w io.Writer, dbPath string) error {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Fprintf(w, "Status: Not paired (no session database at %s)\n", dbPath)
		return nil
	}

	db, container, err := openContainer(ctx, dbPath, waLog.Noop)
	if err != nil {
		return err
	}
	defer db.Close()

	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	if len(devices) == 0 {
		fmt.Fprintln(w, "Status: Not paired")
		return nil
	}

	for _, device := range devices {
		fmt.Fprintln(w, "Status: Paired")
		fmt.Fprintf(w, "  JID: %s\n", device.ID)
		if device.PushName != "" {
			fmt.Fprintf(w, "  Name: %s\n", device.PushName)
		}
	}
	return nil
}
