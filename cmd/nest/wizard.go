package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nestapp/nest/internal/api"
	"github.com/nestapp/nest/internal/commit"
	"github.com/nestapp/nest/internal/config"
	"github.com/nestapp/nest/internal/draft"
	"github.com/nestapp/nest/internal/storage"
	"github.com/nestapp/nest/internal/syncer"
	"github.com/nestapp/nest/internal/wizard"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Run the guided profile setup",
	Long: `Run the guided profile setup: parent profile, address, children, review.

Nothing is sent to the server until you finish the final step. Progress is
saved locally after each step, so an interrupted setup can be picked up with
--resume.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		resume, _ := cmd.Flags().GetBool("resume")
		return runSetup(resume)
	},
}

func init() {
	setupCmd.Flags().Bool("resume", false, "resume a previously interrupted setup")
}

// terminalNavigator is the CLI's post-setup destination: a farewell message.
type terminalNavigator struct{}

func (terminalNavigator) NavigateHome() {
	printSuccess("Taking you to your family overview. Run `nest profile show` anytime.")
}

func runSetup(resume bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	initLogging(cfg.Log.Level)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening local storage: %w", err)
	}
	defer store.Close()

	if !resume {
		done, err := store.SetupCompleted()
		if err != nil {
			return fmt.Errorf("checking setup state: %w", err)
		}
		if done {
			var again bool
			if err := survey.AskOne(&survey.Confirm{
				Message: "Profile setup was already completed on this device. Run it again?",
			}, &again); err != nil {
				return translatePromptErr(err)
			}
			if !again {
				return nil
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := api.New(cfg.API.BaseURL, cfg.API.Token)
	drafts := draft.NewStore(syncer.NewQueueDeleter(store))

	ctrl := wizard.New(wizard.Config{
		Drafts:     drafts,
		Committer:  commit.New(client),
		Navigator:  terminalNavigator{},
		Completion: store,
		Sessions:   store,
		Mode:       wizard.ValidationMode(cfg.Wizard.Validation),
	})

	// Queued child deletes replay in the background while the wizard runs.
	g, gctx := errgroup.WithContext(ctx)
	worker := syncer.NewWorker(store, client, 2*time.Second)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})

	if resume {
		ws, err := store.LoadSession("default")
		if errors.Is(err, storage.ErrNotFound) {
			printWarning("No saved setup session found; starting fresh.")
		} else if err != nil {
			return fmt.Errorf("loading saved session: %w", err)
		} else {
			if err := ctrl.Resume(ws.Step, []byte(ws.StateJSON)); err != nil {
				return fmt.Errorf("restoring saved session: %w", err)
			}
			printStep("Resuming setup at step %d of %d", ctrl.Step(), wizard.MaxStep)
		}
	} else {
		printStep("Checking for an existing profile...")
		if err := ctrl.LoadExisting(ctx, client); err != nil {
			// Offline setup is still possible; existing data just won't
			// be pre-filled.
			printWarning("Could not load existing profile: %v", err)
		}
	}

	err = runWizardLoop(ctx, ctrl, drafts)

	stop()
	if werr := g.Wait(); werr != nil {
		slog.Warn("delete worker exited with error", "error", werr)
	}
	return err
}

func initLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// translatePromptErr maps a Ctrl-C inside a prompt to a regular error the
// caller can treat as "user left the wizard".
func translatePromptErr(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return errAbort
	}
	return err
}

var errAbort = errors.New("setup interrupted")

func runWizardLoop(ctx context.Context, ctrl *wizard.Controller, drafts *draft.Store) error {
	for !ctrl.Ended() {
		var err error
		switch ctrl.Step() {
		case wizard.StepParent:
			err = stepParent(ctx, ctrl, drafts)
		case wizard.StepAddress:
			err = stepAddress(ctx, ctrl, drafts)
		case wizard.StepChildren:
			err = stepChildren(ctx, ctrl, drafts)
		case wizard.StepReview:
			err = stepReview(ctx, ctrl, drafts)
		}
		if errors.Is(err, errAbort) {
			printWarning("Setup paused. Pick up where you left off with `nest setup --resume`.")
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func stepHeader(ctrl *wizard.Controller, title string) {
	fmt.Fprintf(os.Stderr, "\n%s\n", colorize(colorBold, fmt.Sprintf("Step %d of %d — %s", ctrl.Step(), wizard.MaxStep, title)))
	if msg := ctrl.LastError(); msg != "" {
		printError("%s", msg)
	}
}

func stepParent(ctx context.Context, ctrl *wizard.Controller, drafts *draft.Store) error {
	stepHeader(ctrl, "About you")

	p := drafts.Parent()
	qs := []*survey.Question{
		{
			Name:   "nickname",
			Prompt: &survey.Input{Message: "What should we call you?", Default: p.Nickname},
		},
		{
			Name: "role",
			Prompt: &survey.Select{
				Message: "Your role in the family:",
				Options: []string{"mother", "father", "guardian", "grandparent", "other"},
				Default: defaultOption(p.Role, "mother"),
			},
		},
		{
			Name:   "birthYear",
			Prompt: &survey.Input{Message: "Your birth year (optional):", Default: p.BirthYear},
		},
		{
			Name:   "language",
			Prompt: &survey.Input{Message: "Preferred language (optional):", Default: p.Language},
		},
	}
	answers := struct {
		Nickname  string
		Role      string
		BirthYear string
		Language  string
	}{}
	if err := survey.Ask(qs, &answers); err != nil {
		return translatePromptErr(err)
	}

	drafts.SetParent(draft.ParentProfile{
		Nickname:  strings.TrimSpace(answers.Nickname),
		Role:      answers.Role,
		BirthYear: strings.TrimSpace(answers.BirthYear),
		Region:    p.Region,
		Language:  strings.TrimSpace(answers.Language),
	})

	return navigate(ctx, ctrl, false)
}

func stepAddress(ctx context.Context, ctrl *wizard.Controller, drafts *draft.Store) error {
	stepHeader(ctrl, "Where you live")

	a := drafts.Address()
	qs := []*survey.Question{
		{Name: "line1", Prompt: &survey.Input{Message: "Street address:", Default: a.Line1}},
		{Name: "line2", Prompt: &survey.Input{Message: "Apartment, unit (optional):", Default: a.Line2}},
		{Name: "city", Prompt: &survey.Input{Message: "City:", Default: a.City}},
		{Name: "state", Prompt: &survey.Input{Message: "State or province (optional):", Default: a.State}},
		{Name: "postalCode", Prompt: &survey.Input{Message: "Postal code:", Default: a.PostalCode}},
		{Name: "country", Prompt: &survey.Input{Message: "Country:", Default: a.Country}},
	}
	answers := struct {
		Line1      string
		Line2      string
		City       string
		State      string
		PostalCode string
		Country    string
	}{}
	if err := survey.Ask(qs, &answers); err != nil {
		return translatePromptErr(err)
	}

	drafts.SetAddress(draft.Address{
		Line1:      strings.TrimSpace(answers.Line1),
		Line2:      strings.TrimSpace(answers.Line2),
		City:       strings.TrimSpace(answers.City),
		State:      strings.TrimSpace(answers.State),
		PostalCode: strings.TrimSpace(answers.PostalCode),
		Country:    strings.TrimSpace(answers.Country),
	})

	return navigate(ctx, ctrl, true)
}

func stepChildren(ctx context.Context, ctrl *wizard.Controller, drafts *draft.Store) error {
	for {
		stepHeader(ctrl, "Your children")
		children := drafts.Children()
		for _, c := range children {
			marker := "  "
			if c.ID == ctrl.Highlighted() {
				marker = colorize(colorGreen, "* ")
			}
			age := ""
			if years, ok := c.Age(time.Now()); ok {
				age = fmt.Sprintf(" (%d)", years)
			}
			fmt.Fprintf(os.Stderr, "%s%s%s\n", marker, c.Name, age)
		}

		options := []string{"Add a child"}
		if len(children) > 0 {
			options = append(options, "Edit a child", "Remove a child")
		}
		options = append(options, "Continue", "Go back", "Skip setup")

		var choice string
		if err := survey.AskOne(&survey.Select{Message: "Children:", Options: options}, &choice); err != nil {
			return translatePromptErr(err)
		}

		switch choice {
		case "Add a child":
			if err := promptChild(ctrl, draft.Child{}, ""); err != nil {
				return err
			}
		case "Edit a child":
			id, err := pickChild(children, "Which child do you want to edit?")
			if err != nil {
				return err
			}
			existing, err := drafts.Child(id)
			if err != nil {
				return err
			}
			if err := promptChild(ctrl, existing, id); err != nil {
				return err
			}
		case "Remove a child":
			id, err := pickChild(children, "Which child do you want to remove?")
			if err != nil {
				return err
			}
			if err := ctrl.DeleteChild(ctx, id); err != nil {
				printError("Could not remove child: %v", err)
			}
		case "Continue":
			return ctrl.Advance(ctx)
		case "Go back":
			return ctrl.Retreat()
		case "Skip setup":
			return confirmSkip(ctrl)
		}
	}
}

func pickChild(children []draft.Child, message string) (string, error) {
	names := make([]string, len(children))
	for i, c := range children {
		names[i] = c.Name
	}
	var idx int
	if err := survey.AskOne(&survey.Select{Message: message, Options: names}, &idx); err != nil {
		return "", translatePromptErr(err)
	}
	return children[idx].ID, nil
}

// promptChild collects child fields; editID empty means a new child.
func promptChild(ctrl *wizard.Controller, existing draft.Child, editID string) error {
	qs := []*survey.Question{
		{Name: "name", Prompt: &survey.Input{Message: "Child's name:", Default: existing.Name}},
		{Name: "birthdate", Prompt: &survey.Input{
			Message: "Birthdate (YYYY-MM-DD):",
			Default: existing.Birthdate,
		}, Validate: validateBirthdate},
		{Name: "gender", Prompt: &survey.Select{
			Message: "Gender:",
			Options: []string{"girl", "boy", "other", "prefer not to say"},
			Default: defaultOption(existing.Gender, "prefer not to say"),
		}},
		{Name: "interests", Prompt: &survey.Input{
			Message: "Interests (comma-separated, optional):",
			Default: strings.Join(existing.Interests, ", "),
		}},
		{Name: "traits", Prompt: &survey.Input{
			Message: "Characteristics (comma-separated, optional):",
			Default: strings.Join(existing.Traits, ", "),
		}},
		{Name: "considerations", Prompt: &survey.Input{
			Message: "Special considerations (comma-separated, optional):",
			Default: strings.Join(existing.Considerations, ", "),
		}},
		{Name: "challenges", Prompt: &survey.Input{
			Message: "Current challenges (comma-separated, optional):",
			Default: strings.Join(existing.Challenges, ", "),
		}},
	}
	answers := struct {
		Name           string
		Birthdate      string
		Gender         string
		Interests      string
		Traits         string
		Considerations string
		Challenges     string
	}{}
	if err := survey.Ask(qs, &answers); err != nil {
		return translatePromptErr(err)
	}

	fields := draft.Child{
		Name:           strings.TrimSpace(answers.Name),
		Birthdate:      strings.TrimSpace(answers.Birthdate),
		Gender:         answers.Gender,
		Stage:          existing.Stage,
		Education:      existing.Education,
		Interests:      splitTags(answers.Interests),
		Traits:         splitTags(answers.Traits),
		Considerations: splitTags(answers.Considerations),
		Challenges:     splitTags(answers.Challenges),
	}

	if editID != "" {
		if err := ctrl.EditChild(editID, fields); err != nil {
			printError("Could not update child: %v", err)
		}
		return nil
	}
	if _, err := ctrl.AddChild(fields); err != nil {
		printError("%s", ctrl.LastError())
	}
	return nil
}

func validateBirthdate(v any) error {
	s := strings.TrimSpace(v.(string))
	if s == "" {
		return nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return errors.New("use the YYYY-MM-DD format")
	}
	if d.After(time.Now()) {
		return errors.New("birthdate cannot be in the future")
	}
	return nil
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func stepReview(ctx context.Context, ctrl *wizard.Controller, drafts *draft.Store) error {
	stepHeader(ctrl, "Review")

	p := drafts.Parent()
	a := drafts.Address()
	printStatus("Name", "%s (%s)", p.Nickname, p.Role)
	if a.Line1 != "" || a.City != "" {
		printStatus("Address", "%s", strings.TrimSpace(strings.Join(nonEmpty(a.Line1, a.Line2, a.City, a.PostalCode, a.Country), ", ")))
	}
	for _, c := range drafts.Children() {
		label := c.Name
		if draft.IsTempID(c.ID) {
			label += " (new)"
		}
		printStatus("Child", "%s", label)
	}

	var choice string
	err := survey.AskOne(&survey.Select{
		Message: "Everything look right?",
		Options: []string{"Finish setup", "Go back", "Skip setup"},
	}, &choice)
	if err != nil {
		return translatePromptErr(err)
	}

	switch choice {
	case "Finish setup":
		printStep("Saving your profile...")
		if err := ctrl.Complete(ctx); err != nil {
			// The message was already captured; the loop re-renders it on
			// the review step so the user can retry or go back.
			return nil
		}
		return nil
	case "Go back":
		return ctrl.Retreat()
	default:
		return confirmSkip(ctrl)
	}
}

func confirmSkip(ctrl *wizard.Controller) error {
	var sure bool
	if err := survey.AskOne(&survey.Confirm{
		Message: "Skip setup? Everything you entered here will be discarded.",
	}, &sure); err != nil {
		return translatePromptErr(err)
	}
	if !sure {
		return nil
	}
	return ctrl.Skip()
}

// navigate offers the step transition after a form step. backAllowed is
// false on the first step.
func navigate(ctx context.Context, ctrl *wizard.Controller, backAllowed bool) error {
	options := []string{"Continue"}
	if backAllowed {
		options = append(options, "Go back")
	}
	options = append(options, "Skip setup")

	var choice string
	if err := survey.AskOne(&survey.Select{Message: "Next:", Options: options}, &choice); err != nil {
		return translatePromptErr(err)
	}
	switch choice {
	case "Continue":
		if err := ctrl.Advance(ctx); err != nil {
			// Validation message renders on the re-entered step.
			return nil
		}
		return nil
	case "Go back":
		return ctrl.Retreat()
	default:
		return confirmSkip(ctrl)
	}
}

func defaultOption(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
