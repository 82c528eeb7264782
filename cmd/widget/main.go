// Command widget is a line-oriented shell around the chat widget core. It
// owns the model, store, and pipeline objects and renders the active chat
// after each command.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"tutorchat/internal/widget/chatmodel"
	"tutorchat/internal/widget/localstore"
	"tutorchat/internal/widget/pipeline"
	"tutorchat/internal/widget/remote"
)

var (
	userColor      = color.New(color.FgCyan, color.Bold)
	assistantColor = color.New(color.FgGreen)
	infoColor      = color.New(color.FgYellow)
	highlightColor = color.New(color.FgMagenta, color.Bold)
)

type app struct {
	model    *chatmodel.Model
	store    *localstore.Store
	client   *remote.Client
	pipeline *pipeline.Pipeline
	search   *chatmodel.SearchOverlay
	reader   *bufio.Reader
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	dir := os.Getenv("TUTORCHAT_WIDGET_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("resolve home directory: %v", err)
		}
		dir = filepath.Join(home, ".tutorchat")
	}
	store, err := localstore.Open(dir)
	if err != nil {
		log.Fatalf("open local store: %v", err)
	}

	sessionID, err := store.SessionID()
	if err != nil {
		log.Fatalf("session id: %v", err)
	}

	serverURL := os.Getenv("TUTORCHAT_SERVER")
	if serverURL == "" {
		serverURL = "http://localhost:3000"
	}
	client := remote.NewClient(serverURL)

	model := chatmodel.NewModel(store)
	chats, err := store.LoadChats()
	if err != nil {
		log.Printf("load chats: %v", err)
	}
	activeID, err := store.LoadActiveID()
	if err != nil {
		log.Printf("load active chat: %v", err)
	}
	model.Load(chats, activeID)

	a := &app{
		model:  model,
		store:  store,
		client: client,
		search: chatmodel.NewSearchOverlay(model),
		reader: bufio.NewReader(os.Stdin),
	}
	a.pipeline = pipeline.New(model, client, sessionID,
		pipeline.WithAnalyzer(client),
		pipeline.WithTurnHook(a.renderTail),
	)

	// Best-effort enrichment: the locally cached history stays if this fails.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := remote.SyncHistory(ctx, client, model, sessionID); err != nil {
			log.Printf("history sync: %v", err)
			return
		}
		a.renderActive()
	}()

	infoColor.Printf("tutorchat widget (session %s), /help for commands\n", sessionID)
	a.renderActive()
	a.loop()
}

func (a *app) loop() {
	for {
		fmt.Print("> ")
		line, err := a.reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, "/") {
			if !a.runCommand(line) {
				return
			}
			continue
		}
		switch a.pipeline.Submit(line) {
		case pipeline.OutcomeCancelled:
			infoColor.Println("cancelled")
		case pipeline.OutcomeSent:
			infoColor.Println("tutor is typing... (send again to cancel)")
		}
	}
}

// runCommand returns false when the shell should exit.
func (a *app) runCommand(line string) bool {
	fields := strings.SplitN(line, " ", 2)
	cmd := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = strings.TrimSpace(fields[1])
	}

	switch cmd {
	case "/quit", "/exit":
		return false
	case "/help":
		a.printHelp()
	case "/new":
		a.model.CreateChat()
		a.renderActive()
	case "/list":
		a.renderList()
	case "/open":
		a.openChat(arg)
	case "/rename":
		id := a.model.ActiveID()
		a.model.RenameChat(id, arg)
		a.renderActive()
	case "/archive":
		a.model.ArchiveChat(a.model.ActiveID())
		a.renderList()
	case "/delete":
		if a.confirm("delete this chat") {
			a.model.DeleteChat(a.model.ActiveID())
			a.renderActive()
		}
	case "/clear":
		if a.confirm("clear this chat's history") {
			a.model.ClearChat(a.model.ActiveID())
			a.renderActive()
		}
	case "/clearall":
		if a.confirm("delete ALL chats") {
			a.model.ClearAllChats()
			a.model.CreateChat()
			a.renderActive()
		}
	case "/search":
		a.search.SetQuery(arg)
		a.renderSearch()
	case "/next":
		a.search.Next()
		a.renderSearch()
	case "/prev":
		a.search.Prev()
		a.renderSearch()
	case "/attach":
		a.attach(arg)
	default:
		infoColor.Printf("unknown command %s\n", cmd)
	}
	return true
}

func (a *app) openChat(arg string) {
	if arg == "" {
		infoColor.Println("usage: /open <number from /list>")
		return
	}
	chats := a.model.Chats()
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(chats) {
		infoColor.Println("no such chat")
		return
	}
	if _, ok := a.model.OpenChat(chats[n-1].ID); ok {
		a.renderActive()
	}
}

func (a *app) attach(path string) {
	if path == "" {
		infoColor.Println("usage: /attach <image path>")
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		infoColor.Printf("read %s: %v\n", path, err)
		return
	}
	name := filepath.Base(path)
	a.pipeline.AttachImage(name, mimeForExt(filepath.Ext(name)), data)
	infoColor.Printf("attached %s (%d pending)\n", name, a.pipeline.PendingImages())
}

func mimeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

func (a *app) confirm(action string) bool {
	fmt.Printf("Really %s? [y/N] ", action)
	line, err := a.reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func (a *app) renderActive() {
	chat, ok := a.model.ActiveChat()
	if !ok {
		infoColor.Println("(no active chat)")
		return
	}
	fmt.Println()
	highlightColor.Printf("== %s ==\n", chat.Title)
	for _, msg := range chat.History {
		a.renderMessage(msg)
	}
	if a.pipeline != nil && a.pipeline.Typing() {
		assistantColor.Println("tutor is typing...")
	}
}

// renderTail prints the latest message after an async turn completes.
func (a *app) renderTail() {
	chat, ok := a.model.ActiveChat()
	if !ok || len(chat.History) == 0 {
		return
	}
	fmt.Println()
	a.renderMessage(chat.History[len(chat.History)-1])
	fmt.Print("> ")
}

func (a *app) renderMessage(msg chatmodel.Message) {
	label := assistantColor
	name := "tutor"
	if msg.Sender == chatmodel.SenderUser {
		label = userColor
		name = "you"
	}
	label.Printf("[%s] %s: ", msg.Timestamp, name)
	fmt.Println(msg.Text)
}

func (a *app) renderList() {
	chats := a.model.Chats()
	if len(chats) == 0 {
		infoColor.Println("(no chats)")
		return
	}
	active := a.model.ActiveID()
	for i, chat := range chats {
		marker := "  "
		if chat.ID == active {
			marker = "* "
		}
		fmt.Printf("%s%d. %s (%d messages)\n", marker, i+1, chat.Title, len(chat.History))
	}
}

func (a *app) renderSearch() {
	if !a.search.Active() {
		infoColor.Println("search cleared")
		a.renderList()
		return
	}
	matches := a.search.Matches()
	if len(matches) == 0 {
		infoColor.Println("no matches")
		return
	}
	current, _ := a.search.Current()
	for _, match := range matches {
		prefix := "  "
		if match.ChatID == current.ChatID {
			prefix = "> "
		}
		fmt.Print(prefix)
		fmt.Print(match.Title[:match.Start])
		highlightColor.Print(match.Title[match.Start:match.End])
		fmt.Println(match.Title[match.End:])
	}
	index, count := a.search.Position()
	infoColor.Printf("match %d of %d\n", index, count)
}

func (a *app) printHelp() {
	fmt.Println(`commands:
  /new              start a new chat
  /list             list chats
  /open <n>         switch to chat n from /list
  /rename <title>   rename the active chat
  /archive          archive the active chat
  /delete           delete the active chat (confirmed)
  /clear            clear the active chat's history (confirmed)
  /clearall         delete all chats (confirmed)
  /search <text>    filter chats by title
  /next, /prev      step through search matches
  /attach <path>    attach an image to the next message
  /quit             exit
anything else is sent to the tutor; sending while a reply is
pending cancels it.`)
}
