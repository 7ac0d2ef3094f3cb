// cmd/intake/main.go
//
// Intake – terminal wizard runner.
//
// Boot sequence
// -------------
//
//  1. Load configuration (conf/.env → conf/intake.yaml → INTAKE_ overrides).
//
//  2. Start the daily rotating logger (tees to console when on a TTY).
//
//  3. Register the wizard form definitions.
//
//  4. Bootstrap the session against the form service: fetch the owner's
//     bundle and option catalog, opening a server-side draft when needed.
//
//  5. Drive the state machine from a small command loop until the student
//     submits or quits.
//
// Commands
// --------
//
//	set <path> <value…>   enter a field value (sanitized on entry)
//	clear <path>          acknowledge one field error
//	photo <file>          attach the profile photo (replaces any previous)
//	next | back           step navigation
//	preview | close       open or leave the read-only preview
//	save                  save the draft without validation
//	submit                validate everything and ask for confirmation
//	confirm | cancel      settle a pending submission
//	errors                list outstanding field errors
//	show                  reprint the current step
//	quit
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/upmin-guidance/intake/internal/api"
	"github.com/upmin-guidance/intake/internal/attach"
	"github.com/upmin-guidance/intake/internal/config"
	"github.com/upmin-guidance/intake/internal/formdef"
	"github.com/upmin-guidance/intake/internal/forms"
	"github.com/upmin-guidance/intake/internal/logger"
	"github.com/upmin-guidance/intake/internal/wizard"
)

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	formID := flag.String("form", forms.BISID, "form definition id")
	ownerKey := flag.String("owner", "", "owner key (student or employee number)")
	flag.Parse()

	if *ownerKey == "" {
		log.Fatal("-owner is required")
	}

	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logOut, err := logger.New(cfg.LogDir(), runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	if err := forms.RegisterAll(); err != nil {
		logOut.Fatalw("register forms", "err", err)
	}

	def, ok := formdef.Get(*formID)
	if !ok {
		logOut.Fatalw("unknown form", "form", *formID)
	}

	//
	// ── 1.  Session bootstrap against the form service ──────────────────
	//
	client := api.New(cfg.API.BaseURL, api.StaticToken(cfg.API.Token))
	bundle, choices, err := client.Bootstrap(ctx, def, *ownerKey)
	if err != nil {
		logOut.Fatalw("bootstrap session", "form", def.ID, "err", err)
	}

	m := wizard.New(def, *ownerKey, client, wizard.WithLogger(logOut))
	m.Hydrate(bundle)

	fmt.Printf("%s — %s\n", def.Title, *ownerKey)
	if m.ReadOnly() {
		fmt.Println("This form has already been submitted and is read-only.")
	}
	if len(choices) > 0 {
		logOut.Debugw("server option catalog loaded", "fields", len(choices))
	}
	printStep(m)

	//
	// ── 2.  Command loop ────────────────────────────────────────────────
	//
	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")

		switch cmd {
		case "set":
			doSet(m, rest)
		case "clear":
			m.ClearError(strings.TrimSpace(rest))
		case "photo":
			doPhoto(m, strings.TrimSpace(rest))
		case "next":
			if !m.Advance() {
				fmt.Println("Fix the listed errors before moving on.")
				printErrors(m)
				continue
			}
			printStep(m)
		case "back":
			m.Retreat()
			printStep(m)
		case "preview":
			m.OpenPreview()
			fmt.Println("Preview open; fields are read-only.  `close` to resume.")
		case "close":
			m.ClosePreview()
			printStep(m)
		case "save":
			report(m, m.SaveDraft(ctx))
		case "submit":
			if err := m.RequestSubmit(); err != nil {
				report(m, err)
				continue
			}
			fmt.Println("Ready to submit.  `confirm` to send, `cancel` to keep editing.")
		case "confirm":
			report(m, m.ConfirmSubmit(ctx))
			if m.State() == wizard.StateSubmitted {
				fmt.Printf("Submitted.  Continue at %s\n", m.RedirectTarget())
				return
			}
		case "cancel":
			m.CancelSubmit()
			fmt.Println("Submission cancelled; back to editing.")
		case "errors":
			printErrors(m)
		case "show":
			printStep(m)
		case "quit", "exit":
			return
		default:
			fmt.Println("Unknown command.  Try: set, next, back, save, preview, submit, errors, quit.")
		}
	}
}

// doSet parses "set <path> <value…>" and commits the value through the
// machine so sanitization and conditional resets apply atomically.
func doSet(m *wizard.Machine, rest string) {
	path, raw, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if path == "" {
		fmt.Println("Usage: set <path> <value…>")
		return
	}

	var value any = raw
	if f, ok := m.Def().FieldAt(path); ok {
		switch f.Kind {
		case "bool":
			value = strings.EqualFold(raw, "true") || raw == "1" || strings.EqualFold(raw, "yes")
		}
	}
	// The support set is entered as a comma-separated list.
	if strings.HasSuffix(path, ".support") {
		value = forms.SupportList(raw)
	}

	if err := m.SetField(path, value); err != nil {
		fmt.Println(err)
		return
	}
	if msg, bad := m.FieldError(path); bad {
		fmt.Println(msg)
		return
	}
	fmt.Printf("%s = %s\n", path, m.Draft().StringValue(path))
}

// doPhoto loads a file into the transient attachment holder.
func doPhoto(m *wizard.Machine, file string) {
	if m.Def().Attachment == nil {
		fmt.Println("This form takes no attachment.")
		return
	}
	data, err := os.ReadFile(file)
	if err != nil {
		fmt.Println(err)
		return
	}
	m.Attachment().Replace(&attach.File{Name: filepath.Base(file), Data: data})
	fmt.Printf("Attached %s (%d bytes).\n", filepath.Base(file), len(data))
}

func printStep(m *wizard.Machine) {
	step := m.CurrentStep()
	fmt.Printf("[%d/%d] %s\n", m.Step(), m.StepCount(), step.Title)
	for i := range step.Fields {
		f := &step.Fields[i]
		val := m.Draft().StringValue(f.Path)
		marker := " "
		if _, bad := m.FieldError(f.Path); bad {
			marker = "!"
		}
		fmt.Printf("  %s %-45s %s\n", marker, f.Path, val)
	}
	if n := m.Notice(); n != "" {
		fmt.Println(n)
		m.ClearNotice()
	}
}

func printErrors(m *wizard.Machine) {
	errs := m.Errors()
	if errs.Empty() {
		fmt.Println("No outstanding errors.")
		return
	}
	paths := make([]string, 0, errs.Len())
	for p := range errs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		msg, _ := errs.Get(p)
		fmt.Printf("  %s: %s\n", p, msg)
	}
}

// report prints the machine's notice after a network verb, falling back to
// the error text for faults the machine does not translate.
func report(m *wizard.Machine, err error) {
	if n := m.Notice(); n != "" {
		fmt.Println(n)
		m.ClearNotice()
		return
	}
	if err != nil {
		fmt.Println(err)
	}
}
