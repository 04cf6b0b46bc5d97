package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"fieldservice-backend/internal/auth"
	"fieldservice-backend/internal/capture"
	"fieldservice-backend/internal/config"
	"fieldservice-backend/internal/db"
	"fieldservice-backend/internal/domain"
	"fieldservice-backend/internal/geo"
	"fieldservice-backend/internal/graph"
	"fieldservice-backend/internal/records"
	"fieldservice-backend/internal/session"
	"fieldservice-backend/internal/store"
	"fieldservice-backend/internal/ui"
)

var (
	flagFile string
	flagDB   bool
	flagJSON bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fieldctl",
		Short: "Inspect and operate the field-service task set",
		Long: `fieldctl loads tasks and users from a JSON export or from the
Postgres sync layer and answers dispatch questions: what is open, what is
nearby, in which order work can proceed and who may do what.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagFile, "file", "", "JSON export with \"tasks\" and \"users\" arrays")
	rootCmd.PersistentFlags().BoolVar(&flagDB, "db", false, "Load from Postgres (DB_* environment)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Machine-readable JSON output")

	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(nearCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(canCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(transitionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadStore builds a store from whichever source the flags select. The
// returned *sql.DB is nil for file sources.
func loadStore(ctx context.Context) (*store.Store, *sql.DB, error) {
	cfg := config.Load()

	var router geo.Router
	if cfg.MapsAPIKey != "" {
		router = geo.NewGoogleDirections(cfg.MapsAPIKey)
	}
	st := store.New(geo.NewService(router))

	switch {
	case flagDB:
		database, err := db.Connect(ctx, cfg.ConnString())
		if err != nil {
			return nil, nil, err
		}
		if err := st.Load(ctx, db.NewRepository(database)); err != nil {
			database.Close()
			return nil, nil, err
		}
		return st, database, nil
	case flagFile != "":
		if err := st.Load(ctx, records.FileSource{Path: flagFile}); err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	}
	return nil, nil, fmt.Errorf("one of --file or --db is required")
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTasks(ts []domain.Task) {
	if len(ts) == 0 {
		fmt.Println(ui.Dim("  no tasks"))
		return
	}
	for _, t := range ts {
		ui.TaskLine(os.Stdout, t)
	}
}

func tasksCmd() *cobra.Command {
	var (
		status   string
		assignee int64
	)
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks, optionally by status or assignee",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, database, err := loadStore(cmd.Context())
			if err != nil {
				return err
			}
			if database != nil {
				defer database.Close()
			}

			var ts []domain.Task
			switch {
			case status != "":
				ts, err = st.ByStatus(status)
			case assignee != 0:
				ts, err = st.ByAssignee(assignee)
			default:
				ts = st.All()
			}
			if err != nil {
				return err
			}

			if flagJSON {
				return outputJSON(ts)
			}
			fmt.Printf("%s %d tasks\n", ui.Bold("▸"), len(ts))
			printTasks(ts)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only tasks in this status")
	cmd.Flags().Int64Var(&assignee, "assignee", 0, "Only tasks assigned to this user id")
	return cmd
}

func nearCmd() *cobra.Command {
	var lat, lng, radius float64
	cmd := &cobra.Command{
		Use:   "near",
		Short: "Tasks within a radius (meters) of a point, closest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, database, err := loadStore(cmd.Context())
			if err != nil {
				return err
			}
			if database != nil {
				defer database.Close()
			}

			out, err := st.Near(geo.Coordinate{Lat: lat, Lng: lng}, geo.Meters(radius))
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(out)
			}
			for _, n := range out {
				fmt.Printf("  %s %s\n", ui.Cyan(fmt.Sprintf("%7.0fm", float64(n.Distance))), ui.Dim(n.Task.Location.Address))
				ui.TaskLine(os.Stdout, n.Task)
			}
			if len(out) == 0 {
				fmt.Println(ui.Dim("  nothing nearby"))
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Origin latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "Origin longitude")
	cmd.Flags().Float64Var(&radius, "radius", 5000, "Radius in meters")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")
	return cmd
}

func routeCmd() *cobra.Command {
	var lat, lng float64
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Dispatch order: priority queue and dependency-safe execution order",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, database, err := loadStore(cmd.Context())
			if err != nil {
				return err
			}
			if database != nil {
				defer database.Close()
			}

			var origin *geo.Coordinate
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
				origin = &geo.Coordinate{Lat: lat, Lng: lng}
			}
			queue, err := st.Prioritized(origin)
			if err != nil {
				return err
			}
			g := graph.Build(st.All())
			order := g.TopoOrder()

			if flagJSON {
				return outputJSON(map[string]any{"queue": queue, "order": order, "roots": g.Roots()})
			}

			fmt.Println(ui.Bold("Priority queue"))
			printTasks(queue)
			fmt.Println()
			fmt.Println(ui.Bold("Execution order"))
			for i, id := range order {
				t, _ := st.Get(id)
				fmt.Printf("  %3d. %s %s\n", i+1, ui.StatusIcon(t.Status), t.Description)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Technician latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "Technician longitude")
	return cmd
}

func canCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "can [role]",
		Short: "Show the permission matrix, or one role's permissions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roles := domain.Roles
			if len(args) == 1 {
				r, err := domain.ParseRole(args[0])
				if err != nil {
					return err
				}
				roles = []domain.Role{r}
			}

			if flagJSON {
				m := map[domain.Role]map[string]bool{}
				for _, r := range roles {
					u := &domain.User{Role: r}
					m[r] = map[string]bool{}
					for _, a := range auth.Actions {
						m[r][a.Name] = auth.Authorize(u, a)
					}
				}
				return outputJSON(m)
			}

			fmt.Printf("  %-20s", "")
			for _, r := range roles {
				fmt.Printf(" %-13s", ui.Bold(string(r)))
			}
			fmt.Println()
			for _, a := range auth.Actions {
				fmt.Printf("  %-20s", a.Name)
				for _, r := range roles {
					fmt.Printf(" %-13s", ui.Check(auth.Authorize(&domain.User{Role: r}, a)))
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func validateCmd() *cobra.Command {
	var in capture.AddressInput
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Standardize an address through the configured providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			var chain capture.AddressChain
			if cfg.MapsAPIKey != "" {
				chain = append(chain, capture.NewGoogleGeocoder(cfg.MapsAPIKey))
			}
			if cfg.USPSUserID != "" {
				chain = append(chain, capture.NewUSPSVerifier(cfg.USPSUserID))
			}

			v, err := chain.ValidateAddress(cmd.Context(), in)
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(v)
			}
			fmt.Printf("%s %s %s\n", ui.Green("✓"), v.Formatted, ui.Dim("("+v.Provider+")"))
			if v.Coordinate != nil {
				fmt.Printf("  %s\n", ui.Cyan(v.Coordinate.String()))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Line1, "line1", "", "Street address")
	cmd.Flags().StringVar(&in.Line2, "line2", "", "Unit, suite")
	cmd.Flags().StringVar(&in.City, "city", "", "City")
	cmd.Flags().StringVar(&in.State, "state", "", "State")
	cmd.Flags().StringVar(&in.Zip, "zip", "", "ZIP code")
	return cmd
}

// transitionCmd signs in against Postgres and moves one task, persisting
// the result directly.
func transitionCmd() *cobra.Command {
	var (
		username string
		password string
		assignee int64
	)
	cmd := &cobra.Command{
		Use:   "transition <task-id> <status>",
		Short: "Move a task to a new status as a signed-in user (requires --db)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !flagDB {
				return fmt.Errorf("transition requires --db")
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("task id: %w", err)
			}
			to, err := domain.ParseStatus(args[1])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, database, err := loadStore(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			sess := session.New(auth.NewPostgresIdentity(database), st)
			if _, err := sess.Login(ctx, username, password); err != nil {
				return err
			}
			me, err := sess.CurrentUser()
			if err != nil {
				return err
			}

			m := store.Transition{To: to}
			if assignee != 0 {
				m.AssigneeID = &assignee
			}
			res, err := st.ApplyMutation(ctx, me, store.Request{TaskID: id, Mutation: m})
			if errors.Is(err, domain.ErrInvalidTransition) {
				if cur, gerr := st.Get(id); gerr == nil {
					fmt.Fprintf(os.Stderr, "  from %s: %s\n", cur.Status, ui.NextStatuses(cur.Status))
				}
			}
			if err != nil {
				return err
			}
			if err := db.NewRepository(database).Persist(ctx, res.Task); err != nil {
				return err
			}

			if flagJSON {
				return outputJSON(res)
			}
			ui.TaskLine(os.Stdout, res.Task)
			for _, e := range res.Events {
				fmt.Printf("  %s %s\n", ui.Magenta("✉"), e.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "Username")
	cmd.Flags().StringVar(&password, "password", os.Getenv("FIELDCTL_PASSWORD"), "Password (or FIELDCTL_PASSWORD)")
	cmd.Flags().Int64Var(&assignee, "assignee", 0, "Assignee user id for Open -> Assigned")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
