package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/park285/Cheese-Arena/internal/adapter/console"
	"github.com/park285/Cheese-Arena/internal/auth"
	"github.com/park285/Cheese-Arena/internal/conn"
	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/session"
)

func helpText() string {
	return `♞ arena commands
• find <wager> [name]   search for an opponent
• cancel                stop searching and reset
• join <session-id>     rejoin a session
• move <uci>            e.g. e2e4, e7e8q
• premove <uci|square> / unpremove
• resign
• sync / resume         refresh board / clock
• token <jwt>           replace the auth token
• state / snap          print the board / save a PNG
• failures              recent send failures
• quit`
}

func readCommands(ctx context.Context, stop func(), ctrl *session.Controller, p *console.Presenter, tokens *auth.Static, manager *conn.Manager) {
	defer stop()
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		parts := strings.Fields(sc.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := strings.ToLower(parts[0]), parts[1:]
		if cmd == "quit" || cmd == "exit" {
			return
		}
		handleCommand(ctx, ctrl, p, tokens, manager, cmd, args)
	}
}

func handleCommand(ctx context.Context, ctrl *session.Controller, p *console.Presenter, tokens *auth.Static, manager *conn.Manager, cmd string, args []string) {
	switch cmd {
	case "help":
		p.Print(helpText())
	case "find":
		if len(args) == 0 {
			p.Print("usage: find <wager> [name]")
			return
		}
		wager, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			p.Print("wager must be a number")
			return
		}
		ctrl.FindMatch(wager, strings.Join(args[1:], " "))
	case "cancel":
		ctrl.CancelSearch()
	case "join":
		if len(args) != 1 {
			p.Print("usage: join <session-id>")
			return
		}
		ctrl.JoinSession(args[0])
	case "move", "premove":
		if len(args) != 1 {
			p.Print("usage: " + cmd + " <uci>")
			return
		}
		if cmd == "premove" && len(args[0]) == 2 {
			// 예약된 출발 칸을 다시 고르면 취소
			ctrl.SetPremove(args[0], "", "")
			return
		}
		mv, err := domain.ParseUCI(args[0])
		if err != nil {
			p.Print(err.Error())
			return
		}
		if cmd == "move" {
			ctrl.SendMove(mv.From, mv.To, mv.Promotion)
		} else {
			ctrl.SetPremove(mv.From, mv.To, mv.Promotion)
		}
	case "unpremove":
		ctrl.ClearPremove()
	case "resign":
		ctrl.Resign()
	case "sync":
		ctrl.RequestSync()
	case "resume":
		ctrl.Resume()
	case "token":
		if len(args) != 1 {
			p.Print("usage: token <jwt>")
			return
		}
		tokens.Set(args[0])
	case "state":
		ctrl.Do(func() {})
		p.Show()
		p.Print(fmt.Sprintf("• connection: %s", ctrl.Status()))
	case "snap":
		path, err := p.Snapshot(ctx, ctrl.State())
		if err != nil {
			p.Print("snapshot failed: " + err.Error())
			return
		}
		p.Print("saved " + path)
	case "failures":
		fails := manager.RecentSendFailures()
		if len(fails) == 0 {
			p.Print("no send failures")
			return
		}
		for _, f := range fails {
			p.Print(fmt.Sprintf("%s %s: %s", f.At.Format("15:04:05"), f.Kind, f.Reason))
		}
	default:
		p.Print("unknown command, try 'help'")
	}
}
