// Command inspect prints the stored history of a room, newest first.
//
//	inspect -db ./data -room 65a1f0c2e4b0a1b2c3d4e5f6 -pages 2
package main

import (
	"chat-relay/domain"
	"chat-relay/domain/identity"
	"chat-relay/repositories"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

const displayedTextLength = 48

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dbPath := flag.String("db", os.Getenv("BADGER_FILEPATH"), "Path to badger DB")
	room := flag.String("room", "", "Room id to print")
	pages := flag.Int("pages", 1, "Number of pages to follow")
	limit := flag.Int("limit", 50, "Messages per page")
	flag.Parse()

	if err := identity.Validate(*room, "roomId"); err != nil {
		return err
	}

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	repository := repositories.NewMessageRepository(db, logs.GetLoggerFromString("ERROR"), limit, false)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Created at", "Id", "Kind", "Sender", "Content"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	var cursor *string
	total := 0
	for page := 0; page < *pages; page++ {
		messages, next, err := repository.GetMessages(domain.RoomID(*room), cursor)
		if err != nil {
			return err
		}
		for _, m := range messages {
			table.Append([]string{
				m.CreatedAt.Format("2006-01-02 15:04:05.000"),
				m.ID,
				string(m.Kind),
				fmt.Sprintf("%s:%s", m.SenderKind, m.SenderID),
				content(m),
			})
		}
		total += len(messages)
		if next == nil {
			break
		}
		cursor = next
	}

	header := fmt.Sprintf(" room %s, %s messages ", *room, strconv.Itoa(total))
	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render(header))
	table.Render()
	return nil
}

func content(m domain.Message) string {
	if m.Kind == domain.Audio && m.Audio != nil {
		where := lo.Ternary(m.Audio.ExternalRef != nil, lo.FromPtr(m.Audio.ExternalRef), "inline")
		return fmt.Sprintf("%s %d bytes (%s)", m.Audio.MimeType, m.Audio.SizeBytes, where)
	}
	if len(m.Text) > displayedTextLength {
		return m.Text[:displayedTextLength] + "…"
	}
	return m.Text
}
