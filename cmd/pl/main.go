package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pillarline/internal/app"
	"pillarline/internal/config"
	"pillarline/internal/db"
	"pillarline/internal/domain"
	"pillarline/internal/engine"
	"pillarline/internal/insights"
	"pillarline/internal/mcptools"
	"pillarline/internal/migrate"
	"pillarline/internal/repo"
	"pillarline/internal/server"
	"pillarline/internal/store"
)

var version = "dev"

const jwtSecretEnv = "PILLARLINE_JWT_SECRET"

var rootCmd = &cobra.Command{
	Use:     "pl",
	Short:   "Pillarline CLI",
	Version: version,
	Long: `Pillarline tracks how mature each AI product is across six pillars.
Core concepts:
- Pillars: the six areas a product is assessed on (data, model, deployment, governance, ...).
- Questions: each belongs to one pillar and one lifecycle stage and is answered yes, no, unknown or not-relevant.
- Score: the share of "yes" among a pillar's questions, leaving out unknown and not-relevant, 0 to 100.
- Lifecycle: ideation -> poc -> mvp -> pilot -> rollout -> retire. A product advances one stage when
  a completed assessment covers at least the configured share of its current stage's questions.
- History: every completed pillar appends an assessment that carries the other pillars' latest scores forward.
- Audit records: every completed assessment is written to the event log and any configured sinks.
- Event log: diary of changes, view with 'pl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PILLARLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("user", "u", "admin", "act as this catalogue user")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(productCmd())
	rootCmd.AddCommand(assessCmd())
	rootCmd.AddCommand(previewCmd())
	rootCmd.AddCommand(viewCmd())
	rootCmd.AddCommand(modelCardCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create pillarline.yml and seed the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Printf("%s already exists (use --force to overwrite)\n", path)
			} else {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", path)
			}
			if os.Getenv(jwtSecretEnv) == "" {
				if err := setEnvValue(filepath.Join(workspace, ".env"), jwtSecretEnv, uuid.NewString()); err != nil {
					return err
				}
				fmt.Printf("generated %s in %s\n", jwtSecretEnv, filepath.Join(workspace, ".env"))
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.User) error {
				applied, latest, err := migrate.Status(ctx, e.DB)
				if err != nil {
					return err
				}
				out := map[string]any{
					"workspace":  workspace,
					"database":   db.Path(workspace),
					"migrations": fmt.Sprintf("%d/%d", applied, latest),
					"products":   len(e.Store.List()),
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("database %s at migration %d/%d with %d products\n", db.Path(workspace), applied, latest, len(e.Store.List()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing pillarline.yml")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in pillarline.yml: the advancement threshold, catalogue location, token lifetime, audit sinks and webhooks.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.User) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				return yaml.NewEncoder(os.Stdout).Encode(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate pillarline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func catalogCmd() *cobra.Command {
	c := &cobra.Command{Use: "catalog", Short: "Browse pillars and questions"}
	c.AddCommand(&cobra.Command{
		Use:   "pillars",
		Short: "List pillars",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.User) error {
				pillars := e.Catalog.Pillars()
				if viper.GetBool("json") {
					return printJSON(pillars)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Description"})
				for _, p := range pillars {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Description})
				}
				tw.Render()
				return nil
			})
		},
	})
	var stage string
	questions := &cobra.Command{
		Use:   "questions <pillar-id>",
		Short: "List a pillar's questions by section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.User) error {
				sections, err := e.Catalog.SectionsFor(args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sections)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Section", "ID", "Stage", "Question"})
				for _, s := range sections {
					for _, q := range s.Questions {
						if stage != "" && string(q.LifecycleStage) != stage {
							continue
						}
						tw.AppendRow(table.Row{s.Section.Title, q.ID, q.LifecycleStage, q.Text})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	questions.Flags().StringVar(&stage, "stage", "", "only questions of this lifecycle stage")
	c.AddCommand(questions)
	return c
}

func productCmd() *cobra.Command {
	p := &cobra.Command{Use: "product", Short: "Manage AI products"}
	p.AddCommand(productListCmd())
	p.AddCommand(productShowCmd())
	p.AddCommand(productAddCmd())
	p.AddCommand(productPinCmd())
	return p
}

// filterFlags binds the product filter flags shared by list and views.
func filterFlags(cmd *cobra.Command, f *filterArgs) {
	cmd.Flags().StringVarP(&f.query, "query", "q", "", "match name or description")
	cmd.Flags().StringVar(&f.entity, "entity", "", "entity")
	cmd.Flags().StringVar(&f.domain, "domain", "", "business domain")
	cmd.Flags().StringVar(&f.stage, "stage", "", "lifecycle stage")
	cmd.Flags().BoolVar(&f.pinned, "pinned", false, "pinned products only")
}

type filterArgs struct {
	query, entity, domain, stage string
	pinned                       bool
}

func (f filterArgs) filter() (store.Filter, error) {
	out := store.Filter{Query: f.query, Entity: f.entity, Domain: f.domain, PinnedOnly: f.pinned}
	if f.stage != "" {
		s, err := domain.ParseStage(f.stage)
		if err != nil {
			return out, err
		}
		out.Stage = s
	}
	return out, nil
}

func productListCmd() *cobra.Command {
	var fa filterArgs
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List products visible to the user",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := fa.filter()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				items := e.ListProducts(ctx, f, actor)
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Entity", "Domain", "Stage", "Overall", "Pinned"})
				for _, p := range items {
					pin := ""
					if p.Pinned {
						pin = "*"
					}
					tw.AppendRow(table.Row{p.ID, p.Name, p.Entity, p.BusinessDomain, p.LifecycleStage, insights.LatestOverall(p), pin})
				}
				tw.Render()
				return nil
			})
		},
	}
	filterFlags(cmd, &fa)
	return cmd
}

func productShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <product-id>",
		Short: "Show a product and its assessment history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				p, err := e.GetProduct(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("%s (%s)\n", p.Name, p.ID)
				fmt.Printf("Entity: %s  Domain: %s  Unit: %s\n", p.Entity, p.BusinessDomain, p.BusinessUnit)
				fmt.Printf("Stage: %s  Pinned: %t\n", p.LifecycleStage, p.Pinned)
				if p.Description != "" {
					fmt.Println(p.Description)
				}
				if len(p.Assessments) == 0 {
					fmt.Println("No assessments yet.")
					return nil
				}
				pillars := e.Catalog.Pillars()
				header := table.Row{"ID", "Date"}
				for _, pl := range pillars {
					header = append(header, pl.ID)
				}
				header = append(header, "Overall")
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(header)
				for _, a := range p.Assessments {
					row := table.Row{a.ID, a.Date}
					for _, pl := range pillars {
						row = append(row, scoreCell(a, pl.ID))
					}
					row = append(row, a.OverallScore)
					tw.AppendRow(row)
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func scoreCell(a domain.Assessment, pillarID string) string {
	for _, s := range a.Scores {
		if s.PillarID == pillarID {
			return fmt.Sprint(s.Score)
		}
	}
	return "-"
}

func productAddCmd() *cobra.Command {
	var opts engine.AddProductOptions
	var stage, risk, problem string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new AI product",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stage != "" {
				s, err := domain.ParseStage(stage)
				if err != nil {
					return err
				}
				opts.Stage = s
			}
			opts.BusinessInfo.Problem = problem
			opts.BusinessInfo.RiskLevel = domain.RiskLevel(risk)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				opts.Actor = actor
				p, err := e.AddProduct(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "product id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "product name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.BusinessUnit, "business-unit", "", "business unit")
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "entity (defaults to the user's)")
	cmd.Flags().StringVar(&opts.BusinessDomain, "domain", "", "business domain")
	cmd.Flags().StringVar(&stage, "stage", "", "initial lifecycle stage (default ideation)")
	cmd.Flags().StringVar(&risk, "risk", "", "risk level: low, intermediate or high")
	cmd.Flags().StringVar(&problem, "problem", "", "business problem statement")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func productPinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin <product-id>",
		Short: "Toggle a product's pinned flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				p, err := e.TogglePin(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("%s pinned: %t\n", p.ID, p.Pinned)
				return nil
			})
		},
	}
	return cmd
}

type answerArgs struct {
	product, pillar string
	answers         []string
	file            string
}

func (a *answerArgs) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.product, "product", "", "product id")
	cmd.Flags().StringVar(&a.pillar, "pillar", "", "pillar id")
	cmd.Flags().StringArrayVarP(&a.answers, "answer", "a", nil, "question=answer (yes, no, unknown, not-relevant); repeatable")
	cmd.Flags().StringVar(&a.file, "answers-file", "", "YAML or JSON map of question id to answer")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("pillar")
}

func (a *answerArgs) options(actor domain.User) (engine.CompleteOptions, error) {
	answers := map[string]string{}
	if a.file != "" {
		data, err := os.ReadFile(a.file)
		if err != nil {
			return engine.CompleteOptions{}, err
		}
		if err := yaml.Unmarshal(data, &answers); err != nil {
			return engine.CompleteOptions{}, fmt.Errorf("parse %s: %w", a.file, err)
		}
	}
	flags, err := parseAnswerFlags(a.answers)
	if err != nil {
		return engine.CompleteOptions{}, err
	}
	for k, v := range flags {
		answers[k] = v
	}
	return engine.CompleteOptions{ProductID: a.product, PillarID: a.pillar, Answers: answers, Actor: actor}, nil
}

// parseAnswerFlags turns "q=yes" pairs into a map. Later pairs win.
func parseAnswerFlags(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --answer %q, want question=answer", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

func assessCmd() *cobra.Command {
	var a answerArgs
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Complete a pillar assessment",
		Long:  "Scores the answers, records the pillar in today's assessment, advances the lifecycle stage when the current stage is covered and writes the audit record.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				opts, err := a.options(actor)
				if err != nil {
					return err
				}
				res, err := e.CompleteAssessment(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s %s score: %d (overall %d on %s)\n", res.Product.ID, opts.PillarID, res.Score, res.Assessment.OverallScore, res.Assessment.Date)
				if res.Advanced {
					fmt.Printf("advanced %s -> %s\n", res.PreviousStage, res.Stage)
				} else {
					fmt.Printf("stage %s, coverage %d%% of %d%%\n", res.Stage, res.Coverage[res.PreviousStage], e.Config.Assessment.AdvanceThreshold)
				}
				if res.AuditError != "" {
					fmt.Fprintf(os.Stderr, "warning: audit: %s\n", res.AuditError)
				}
				return nil
			})
		},
	}
	a.bind(cmd)
	return cmd
}

func previewCmd() *cobra.Command {
	var a answerArgs
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Score answers and show stage progress without saving",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				opts, err := a.options(actor)
				if err != nil {
					return err
				}
				pv, err := e.PreviewAssessment(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(pv)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Coverage"})
				for _, s := range domain.Stages() {
					if c, ok := pv.Coverage[s]; ok {
						tw.AppendRow(table.Row{s, fmt.Sprintf("%d%%", c)})
					}
				}
				tw.Render()
				fmt.Printf("score %d, current stage %s at %d%% (threshold %d%%)\n", pv.Score, pv.CurrentStage, pv.StageCoverage, pv.Threshold)
				if pv.WouldAdvance {
					fmt.Printf("would advance to %s\n", pv.NextStage)
				}
				return nil
			})
		},
	}
	a.bind(cmd)
	return cmd
}

func viewCmd() *cobra.Command {
	v := &cobra.Command{Use: "view", Short: "Portfolio views"}

	var boardArgs filterArgs
	board := &cobra.Command{
		Use:   "lifecycle",
		Short: "Products grouped by lifecycle stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := boardArgs.filter()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				cols := e.LifecycleBoard(ctx, f, actor)
				if viper.GetBool("json") {
					return printJSON(cols)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Product", "Entity", "Overall", "Level"})
				for _, c := range cols {
					if len(c.Products) == 0 {
						tw.AppendRow(table.Row{c.Stage, "-", "", "", ""})
					}
					for _, card := range c.Products {
						tw.AppendRow(table.Row{c.Stage, card.Name, card.Entity, card.OverallScore, card.Level})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	filterFlags(board, &boardArgs)

	var heatArgs filterArgs
	heat := &cobra.Command{
		Use:   "heatmap",
		Short: "Average maturity per entity and domain",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := heatArgs.filter()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				cells := e.Heatmap(ctx, f, actor)
				if viper.GetBool("json") {
					return printJSON(cells)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Entity", "Domain", "Products", "Average", "Level"})
				for _, c := range cells {
					tw.AppendRow(table.Row{c.Entity, c.Domain, c.ProductCount, c.AverageScore, c.Level})
				}
				tw.Render()
				return nil
			})
		},
	}
	filterFlags(heat, &heatArgs)

	var stratArgs filterArgs
	strat := &cobra.Command{
		Use:   "strategy",
		Short: "Per-pillar scores and trends for each product",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := stratArgs.filter()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				rows := e.StrategyMatrix(ctx, f, actor)
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				pillars := e.Catalog.Pillars()
				header := table.Row{"Product", "Stage"}
				for _, p := range pillars {
					header = append(header, p.ID)
				}
				header = append(header, "Overall")
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(header)
				for _, r := range rows {
					row := table.Row{r.Name, r.Stage}
					for _, c := range r.Pillars {
						row = append(row, trendCell(c))
					}
					row = append(row, r.OverallScore)
					tw.AppendRow(row)
				}
				tw.Render()
				return nil
			})
		},
	}
	filterFlags(strat, &stratArgs)

	dash := &cobra.Command{
		Use:   "dashboard",
		Short: "Pinned products and latest assessments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				d := e.Dashboard(ctx, actor)
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("%d products, average maturity %d\n", d.Total, d.AverageScore)
				stages := table.NewWriter()
				stages.SetOutputMirror(os.Stdout)
				stages.AppendHeader(table.Row{"Stage", "Products"})
				for _, s := range domain.Stages() {
					stages.AppendRow(table.Row{s, d.StageCounts[s]})
				}
				stages.Render()
				recent := table.NewWriter()
				recent.SetOutputMirror(os.Stdout)
				recent.SetTitle("Recent assessments")
				recent.AppendHeader(table.Row{"Date", "Product", "Overall"})
				for _, r := range d.Recent {
					recent.AppendRow(table.Row{r.Assessment.Date, r.ProductName, r.Assessment.OverallScore})
				}
				recent.Render()
				for _, p := range d.Pinned {
					fmt.Printf("* %s (%s, %s)\n", p.Name, p.ID, p.LifecycleStage)
				}
				return nil
			})
		},
	}

	v.AddCommand(board, heat, strat, dash)
	return v
}

func trendCell(c insights.StrategyCell) string {
	if c.Trend == nil {
		return fmt.Sprint(c.Score)
	}
	switch c.Trend.Direction {
	case insights.Up:
		return fmt.Sprintf("%d (+%d)", c.Score, c.Trend.Value)
	case insights.Down:
		return fmt.Sprintf("%d (-%d)", c.Score, c.Trend.Value)
	}
	return fmt.Sprintf("%d (=)", c.Score)
}

func modelCardCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "modelcard <product-id>",
		Short: "Render a product's model card as Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				md, err := e.ModelCard(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if out != "" {
					return os.WriteFile(out, []byte(md), 0o644)
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"product_id": args[0], "markdown": md})
				}
				fmt.Print(md)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func auditCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "audit",
		Short: "Audit records of completed assessments",
	}
	a.AddCommand(auditListCmd())
	a.AddCommand(auditRecentCmd())
	a.AddCommand(auditImportCmd())
	return a
}

func auditListCmd() *cobra.Command {
	var product string
	var n int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit records from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.User) error {
				recs, err := e.ListAuditRecords(ctx, product, n)
				if err != nil {
					return err
				}
				return printRecords(recs)
			})
		},
	}
	cmd.Flags().StringVar(&product, "product-name", "", "only records for this product name")
	cmd.Flags().IntVar(&n, "n", 20, "number of records")
	return cmd
}

func auditRecentCmd() *cobra.Command {
	var n int64
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Read the latest audit records from the Redis sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.User) error {
				sink := app.RedisSink(e.Config)
				if sink == nil {
					return fmt.Errorf("audit.redis.addr is not configured")
				}
				defer sink.Client.Close()
				recs, err := sink.Recent(ctx, n)
				if err != nil {
					return err
				}
				return printRecords(recs)
			})
		},
	}
	cmd.Flags().Int64Var(&n, "n", 20, "number of records")
	return cmd
}

func auditImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <record.json>...",
		Short: "Apply exported audit records as assessments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				var imported []domain.Assessment
				for _, path := range args {
					data, err := os.ReadFile(path)
					if err != nil {
						return err
					}
					var rec domain.AuditRecord
					if err := json.Unmarshal(data, &rec); err != nil {
						return fmt.Errorf("parse %s: %w", path, err)
					}
					a, err := e.ImportRecord(ctx, rec, actor)
					if err != nil {
						return fmt.Errorf("import %s: %w", path, err)
					}
					imported = append(imported, a)
				}
				if viper.GetBool("json") {
					return printJSON(imported)
				}
				fmt.Printf("imported %d record(s)\n", len(imported))
				return nil
			})
		},
	}
	return cmd
}

func printRecords(recs []domain.AuditRecord) error {
	if viper.GetBool("json") {
		return printJSON(recs)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Timestamp", "Product", "Pillar", "Score", "Answers", "User"})
	for _, r := range recs {
		tw.AppendRow(table.Row{r.Timestamp, r.ProductName, r.PillarName, r.Score, len(r.Answers), r.User.Username})
	}
	tw.Render()
	return nil
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.User) error {
				events, err := e.ListEvents(ctx, repo.EventFilter{Type: evtType, EntityKind: entityKind, EntityID: entityID, Limit: n})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.User) error {
				logger := log.New(os.Stderr, "pillarline: ", log.LstdFlags)
				authCfg := server.AuthConfig{JWTSecret: os.Getenv(jwtSecretEnv), Logger: logger}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("%s is required for bearer auth (run pl init)", jwtSecretEnv)
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, e, logger)
				defer e.Store.Subscribe(func(c store.Change) {
					logger.Printf("product %s %s", c.ProductID, c.Kind)
				})()
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving Pillarline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the assessment tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				s := mcptools.NewServer(e, actor, version)
				return mcpserver.ServeStdio(s)
			})
		},
	}
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, domain.User) error) error {
	e, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		ActorID:   viper.GetString("user"),
		Logger:    log.New(os.Stderr, "pillarline: ", log.LstdFlags),
	})
	if err != nil {
		return err
	}
	defer e.DB.Close()
	actor, err := e.Auth.Lookup(viper.GetString("user"))
	if err != nil {
		return err
	}
	return fn(ctx, e, actor)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// setEnvValue writes key=value into a dotenv file, replacing an existing key.
func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
