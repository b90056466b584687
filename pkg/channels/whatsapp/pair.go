package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	qrterminal "github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver, shared with pkg/store
)

// Pair runs the one-time device-linking flow: it prints a QR code to out for the user to
// scan with their phone (WhatsApp > Linked Devices > Link a Device), then blocks until the
// post-pairing reconnect completes. Run once per connection before Connect will succeed.
func Pair(ctx context.Context, authDBPath string, out io.Writer) error {
	if err := os.MkdirAll(filepath.Dir(authDBPath), 0o700); err != nil {
		return fmt.Errorf("whatsapp auth db directory: %w", err)
	}

	logger := slogAdapter{slog.Default().With("component", "channel-whatsapp-pair")}
	container, err := sqlstore.New(ctx, "sqlite", "file:"+authDBPath+"?_foreign_keys=on", logger)
	if err != nil {
		return fmt.Errorf("whatsapp device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp device: %w", err)
	}

	client := whatsmeow.NewClient(device, logger)
	if client.Store.ID != nil {
		fmt.Fprintf(out, "already paired as %s; delete %s to re-pair\n", client.Store.ID.User, authDBPath)
		return nil
	}

	connected := make(chan struct{}, 1)
	client.AddEventHandler(func(evt interface{}) {
		if _, ok := evt.(*events.Connected); ok {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})

	qrChan, _ := client.GetQRChannel(ctx)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("whatsapp connect: %w", err)
	}
	defer client.Disconnect()

	fmt.Fprintln(out, "scan this QR code with WhatsApp > Linked Devices > Link a Device:")
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, out)
		case "success":
			fmt.Fprintln(out, "pairing successful, finishing setup...")
		case "timeout":
			return fmt.Errorf("whatsapp pairing QR code timed out, try again")
		}
	}

	select {
	case <-connected:
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for post-pairing reconnect")
	}

	// Give WhatsApp time to finish the initial device sync before the caller disconnects.
	time.Sleep(15 * time.Second)
	if client.Store.ID != nil {
		fmt.Fprintf(out, "paired as %s\n", client.Store.ID.User)
	}
	return nil
}
