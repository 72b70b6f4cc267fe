package app

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hvdkamer/relaydesk/internal/call"
	"github.com/hvdkamer/relaydesk/internal/chat"
	"github.com/hvdkamer/relaydesk/internal/client"
	"github.com/hvdkamer/relaydesk/internal/logger"
	"github.com/hvdkamer/relaydesk/internal/roles"
	"github.com/hvdkamer/relaydesk/internal/transport"
	"github.com/hvdkamer/relaydesk/internal/wire"
)

// console is the terminal front end: one goroutine renders session events,
// another turns typed lines into session intents.
type console struct {
	sess *client.Session

	// itemCount is the last rendered log length, so a single new message
	// prints as one line while a history load prints a summary.
	itemCount int
}

func newConsole(sess *client.Session) *console { return &console{sess: sess} }

func (c *console) renderEvents() {
	events, cancel := c.sess.Subscribe()
	defer cancel()
	for ev := range events {
		switch ev.Kind {
		case client.EventStatus:
			c.renderStatus(ev.Status)
		case client.EventRoles:
			c.renderRoles()
		case client.EventItems:
			c.renderItems()
		case client.EventCall:
			c.renderCall(ev.Call)
		case client.EventError:
			fmt.Printf("⚠ relay: %s\n", ev.Code)
		case client.EventNotice:
			fmt.Printf("· %s\n", ev.Notice)
		}
	}
}

func (c *console) renderStatus(st transport.Status) {
	switch st.Kind {
	case transport.StatusConnecting:
		if st.Attempt > 0 {
			fmt.Printf("· reconnecting (attempt %d)\n", st.Attempt)
		} else {
			fmt.Println("· connecting")
		}
	case transport.StatusOpen:
		fmt.Println("· connected")
	case transport.StatusClosed:
		fmt.Printf("· link lost: %v\n", st.Err)
	case transport.StatusDisconnected:
		fmt.Printf("× giving up: %v\n", st.Err)
	}
}

func (c *console) renderRoles() {
	res := c.sess.Resolver()
	if s := res.Search(); s != nil {
		c.renderSearch(s)
		return
	}
	switch res.State() {
	case roles.AwaitingAdminSelection:
		fmt.Println("── admins ──")
		for i, p := range res.Admins() {
			fmt.Printf(" [%d] %s (%s)\n", i+1, p.Name, p.ID)
		}
		fmt.Println("pick one with /admin <n>")
	case roles.AwaitingMasterSelection:
		fmt.Println("── masters ──")
		for i, p := range res.Masters() {
			fmt.Printf(" [%d] %s (%s)\n", i+1, p.Name, p.ID)
		}
		fmt.Println("pick one with /master <n>")
	case roles.AwaitingSelection:
		c.renderRooms(res.Listing(), res.Pagination())
		fmt.Println("pick one with /select <n>")
		if len(res.Masters()) > 0 {
			fmt.Println("or narrow down with /master <n>")
		}
	case roles.Resolved:
		fmt.Printf("● conversation %s as %s\n", res.ConversationID(), res.Role())
	}
}

func (c *console) renderRooms(rooms []wire.Chatroom, pg *wire.Pagination) {
	if len(rooms) == 0 {
		fmt.Println("no conversations to show")
		return
	}
	fmt.Println("── conversations ──")
	for i, r := range rooms {
		mark := " "
		if r.IsUserActive {
			mark = "*"
		}
		name := r.User.Name
		if name == "" {
			name = r.ChatID
		}
		fmt.Printf(" [%d]%s %s (%s)\n", i+1, mark, name, r.ChatID)
	}
	if pg != nil && pg.TotalPages > 1 {
		fmt.Printf(" page %d/%d of %d rooms; /rooms <page>\n", pg.CurrentPage, pg.TotalPages, pg.TotalCount)
	}
}

func (c *console) renderSearch(s *roles.SearchView) {
	fmt.Printf("── results for %q ──\n", s.Query)
	if t := s.Tree; t != nil && t.Size() > 0 {
		for _, a := range t.Admins {
			fmt.Printf(" admin %s (%s)\n", a.Admin.Name, a.Admin.ID)
			for _, m := range a.Masters {
				fmt.Printf("   master %s (%s)\n", m.Master.Name, m.Master.ID)
				for _, cl := range m.Clients {
					fmt.Printf("     %s -> %s\n", cl.Name, cl.ChatID)
				}
			}
		}
		for _, m := range t.Masters {
			fmt.Printf(" master %s (%s)\n", m.Master.Name, m.Master.ID)
			for _, cl := range m.Clients {
				fmt.Printf("   %s -> %s\n", cl.Name, cl.ChatID)
			}
		}
		for _, cl := range t.Clients {
			fmt.Printf(" %s -> %s\n", cl.Name, cl.ChatID)
		}
	} else {
		c.renderRooms(s.Rooms, s.Pagination)
	}
	fmt.Println("select with /select <chat id>, back with /clear")
}

func (c *console) renderItems() {
	items := c.sess.Items()
	n := len(items)
	switch {
	case n == 0:
		// cleared on a conversation switch
	case n == c.itemCount+1:
		c.printItem(items[n-1])
	case n > c.itemCount:
		fmt.Printf("── %d messages ──\n", n)
		for _, it := range tail(items, 10) {
			c.printItem(it)
		}
	}
	c.itemCount = n
}

func tail(items []chat.Item, n int) []chat.Item {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func (c *console) printItem(it chat.Item) {
	ts := it.CreatedAt.Format("15:04")
	mark := ""
	if it.Pending {
		mark = " …"
	}
	switch it.Kind {
	case wire.KindFile:
		fmt.Printf("[%s] %s sent file %s%s\n", ts, it.From, it.FileName, mark)
	case wire.KindAudio:
		fmt.Printf("[%s] %s sent voice note %s%s\n", ts, it.From, it.AudioName, mark)
	default:
		fmt.Printf("[%s] %s: %s%s\n", ts, it.From, it.Text, mark)
	}
}

func (c *console) renderCall(v call.View) {
	switch v.State {
	case call.Idle:
		fmt.Println("☎ call ended")
	case call.Ringing:
		if v.Incoming {
			fmt.Printf("☎ incoming call from %s; /accept or /reject\n", v.FromRole)
		} else {
			fmt.Println("☎ ringing...")
		}
	case call.Connecting:
		fmt.Println("☎ connecting media...")
	case call.Connected:
		fmt.Println("☎ connected; /hangup to end")
	}
}

func (c *console) readInput() {
	printHelp()
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 64*1024), 64*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			c.sess.SendText(line)
			continue
		}
		c.command(line)
	}
	logger.Infof("console input closed")
}

func (c *console) command(line string) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/help":
		printHelp()
	case "/select":
		if id := c.roomID(arg); id != "" {
			c.sess.SelectConversation(id)
		}
	case "/admin":
		if id := personID(c.sess.Resolver().Admins(), arg); id != "" {
			c.sess.SelectAdmin(id)
		}
	case "/master":
		if id := personID(c.sess.Resolver().Masters(), arg); id != "" {
			c.sess.SelectMaster(id)
		}
	case "/rooms":
		page := 0
		if arg != "" {
			if n, err := strconv.Atoi(arg); err == nil {
				page = n
			}
		}
		c.sess.ListConversations(page, 0)
	case "/search":
		if arg == "" {
			fmt.Println("usage: /search <term>")
			return
		}
		c.sess.Search(arg, 0, 0)
	case "/clear":
		c.sess.ClearSearch()
	case "/back":
		c.sess.ResetHierarchy()
	case "/call":
		c.sess.StartCall()
	case "/accept":
		c.sess.AcceptCall()
	case "/reject":
		c.sess.RejectCall()
	case "/hangup":
		c.sess.EndCall()
	case "/history":
		c.sess.FetchHistory()
	case "/upload":
		c.sendFile(arg, false)
	case "/voice":
		c.sendFile(arg, true)
	case "/status":
		c.printStatus()
	default:
		fmt.Printf("unknown command %s; /help lists commands\n", cmd)
	}
}

// roomID resolves a typed argument to a conversation id: a number indexes
// the listing currently on screen, anything else is taken as a literal id.
func (c *console) roomID(arg string) string {
	if arg == "" {
		fmt.Println("usage: /select <number|chat id>")
		return ""
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return arg
	}
	res := c.sess.Resolver()
	rooms := res.Listing()
	if s := res.Search(); s != nil && len(s.Rooms) > 0 {
		rooms = s.Rooms
	}
	if n < 1 || n > len(rooms) {
		fmt.Printf("no conversation [%d]\n", n)
		return ""
	}
	return rooms[n-1].ChatID
}

func personID(people []wire.Person, arg string) string {
	if arg == "" {
		fmt.Println("give a number or an id")
		return ""
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return arg
	}
	if n < 1 || n > len(people) {
		fmt.Printf("no entry [%d]\n", n)
		return ""
	}
	return people[n-1].ID
}

func (c *console) sendFile(path string, audio bool) {
	if path == "" {
		fmt.Println("usage: /upload <path> (or /voice <path>)")
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("cannot read %s: %v\n", path, err)
		return
	}
	name := filepath.Base(path)
	if audio {
		c.sess.UploadAudio(name, bytes.NewReader(data))
	} else {
		c.sess.UploadFile(name, bytes.NewReader(data))
	}
}

func (c *console) printStatus() {
	res := c.sess.Resolver()
	st := c.sess.LinkStatus()
	v := c.sess.CallView()
	fmt.Println("────────────────────────────────────────")
	fmt.Printf(" link : %s\n", st.Kind)
	fmt.Printf(" role : %s (%s)\n", res.Role(), res.State())
	fmt.Printf(" room : %s\n", res.ConversationID())
	fmt.Printf(" call : %s\n", v.State)
	fmt.Println("────────────────────────────────────────")
}

func printHelp() {
	fmt.Println("────────────────────────────────────────")
	fmt.Println(" type a message and press enter to send")
	fmt.Println(" /select <n|id>   bind a conversation")
	fmt.Println(" /rooms [page]    list conversations")
	fmt.Println(" /search <term>   search people and rooms")
	fmt.Println(" /clear           leave search results")
	fmt.Println(" /admin <n|id>    pick an admin (superadmin)")
	fmt.Println(" /master <n|id>   pick a master")
	fmt.Println(" /back            back to the full listing")
	fmt.Println(" /call /accept /reject /hangup")
	fmt.Println(" /history         reload the transcript")
	fmt.Println(" /upload <path>   send a file")
	fmt.Println(" /voice <path>    send a voice note")
	fmt.Println(" /status /help    ctrl-c quits")
	fmt.Println("────────────────────────────────────────")
}
