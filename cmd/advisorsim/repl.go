package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/MrWong99/advisorsim/internal/app"
	"github.com/MrWong99/advisorsim/internal/conversation"
	"github.com/MrWong99/advisorsim/internal/scenario"
	"github.com/MrWong99/advisorsim/pkg/types"
)

const helpText = `Commandes :
  list                 liste des scénarios
  start <n|nom>        démarre une simulation
  voice                active ou coupe l'appel vocal
  ecouter              relit la dernière réplique du client
  end                  termine la simulation et affiche le bilan
  history [n]          derniers bilans enregistrés
  reset                ferme le bilan affiché
  help                 cette aide
  quit                 quitte
Tout autre texte est envoyé au client pendant une simulation.
`

// repl is the terminal front end of the simulator.
type repl struct {
	sessions  *app.SessionManager
	catalogue *scenario.Catalogue
	con       *console
	in        io.Reader
}

// Run reads commands until quit, end of input or ctx is done.
func (r *repl) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	r.con.Printf("Simulateur d'entretien bancaire. Tapez « help » pour l'aide.\n")
	r.listScenarios()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := r.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether the user asked to quit.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "quit", "exit", "quitter":
		return true
	case "help", "aide", "?":
		r.con.Printf("%s", helpText)
	case "list", "liste":
		r.listScenarios()
	case "start", "demarrer":
		r.start(ctx, arg)
	case "voice", "voix":
		r.toggleVoice(ctx)
	case "ecouter", "écouter", "listen":
		r.sessions.SpeakLast(ctx)
	case "end", "fin":
		r.end(ctx)
	case "history", "historique":
		r.history(ctx, arg)
	case "reset":
		if err := r.sessions.Reset(); err != nil {
			r.con.Printf("⚠ %v\n", err)
		}
	default:
		r.send(ctx, line)
	}
	return false
}

func (r *repl) listScenarios() {
	var b strings.Builder
	for i, sc := range r.catalogue.All() {
		b.WriteString("  ")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(sc.Title)
		if sc.Difficulty != "" {
			b.WriteString(" [" + sc.Difficulty + "]")
		}
		if sc.Profession != "" {
			b.WriteString(" - " + sc.Profession)
		}
		b.WriteString("\n")
	}
	r.con.Printf("%s", b.String())
}

func (r *repl) start(ctx context.Context, query string) {
	if query == "" {
		r.con.Printf("Usage : start <numéro ou nom du scénario>\n")
		return
	}
	// Header first: the greeting is printed while Start runs.
	if sc, ok := r.catalogue.Find(query); ok && !r.sessions.IsActive() {
		r.con.SetBotName(sc.Name)
		r.con.Printf("▶ %s\n", sc.Title)
		for _, o := range sc.Objectives {
			r.con.Printf("  • %s\n", o)
		}
	}
	if _, err := r.sessions.Start(ctx, query); err != nil {
		r.con.Printf("⚠ %s\n", describe(err))
	}
}

func (r *repl) send(ctx context.Context, text string) {
	if !r.sessions.IsActive() {
		r.con.Printf("Aucune simulation en cours. Tapez « start <n> » ou « help ».\n")
		return
	}
	if r.sessions.Mode() == conversation.ModeVoiceActive {
		r.con.Printf("Appel vocal en cours : parlez, ou tapez « voice » pour revenir au texte.\n")
		return
	}
	if _, err := r.sessions.Send(ctx, text); err != nil {
		r.con.Printf("⚠ %s\n", describe(err))
	}
}

func (r *repl) toggleVoice(ctx context.Context) {
	active, err := r.sessions.ToggleVoice(ctx)
	switch {
	case err != nil:
		r.con.Printf("⚠ %s\n", describe(err))
	case active:
		r.con.Printf("📞 Appel vocal connecté. Tapez « voice » pour raccrocher.\n")
	default:
		r.con.Printf("📞 Appel terminé, retour au texte.\n")
	}
}

func (r *repl) end(ctx context.Context) {
	r.con.Printf("Génération du bilan…\n")
	out, err := r.sessions.End(ctx)
	if err != nil {
		r.con.Printf("⚠ %s\n", describe(err))
		return
	}
	if out.Path == conversation.PathExit {
		r.con.Printf("Simulation abandonnée, retour au menu.\n")
		return
	}
	r.con.Printf("\n%s\n\nTapez « reset » pour fermer le bilan ou « start <n> » pour recommencer.\n", out.Report)
}

func (r *repl) history(ctx context.Context, arg string) {
	limit := 10
	if n, err := strconv.Atoi(arg); err == nil && n > 0 {
		limit = n
	}
	recs, err := r.sessions.History(ctx, "", limit)
	if err != nil {
		r.con.Printf("⚠ %v\n", err)
		return
	}
	if len(recs) == 0 {
		r.con.Printf("Aucun bilan enregistré.\n")
		return
	}
	for _, rec := range recs {
		voice := ""
		if rec.WasLive {
			voice = " (vocal)"
		}
		r.con.Printf("  %s  %-28s %-10s %2d tours%s\n",
			rec.CreatedAt.Local().Format("2006-01-02 15:04"), rec.ScenarioID, rec.Path, rec.Turns, voice)
	}
}

// describe turns an operation error into a message for the trainee.
func describe(err error) string {
	switch {
	case errors.Is(err, types.ErrConfiguration):
		return "Configuration manquante (clé API ?) : " + err.Error()
	case errors.Is(err, types.ErrPermission):
		return "Micro indisponible ou accès refusé : " + err.Error()
	case errors.Is(err, types.ErrConnection):
		return "Connexion impossible : " + err.Error()
	case errors.Is(err, app.ErrUnknownScenario):
		return "Scénario introuvable. Tapez « list »."
	case errors.Is(err, conversation.ErrWrongMode):
		return "Action impossible maintenant : " + err.Error()
	default:
		return err.Error()
	}
}
