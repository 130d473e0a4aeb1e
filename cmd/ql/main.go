package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"quoteline/internal/app"
	"quoteline/internal/config"
	"quoteline/internal/db"
	"quoteline/internal/domain"
	"quoteline/internal/engine"
	"quoteline/internal/migrate"
	"quoteline/internal/repo"
	"quoteline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ql",
	Short: "Quoteline CLI",
	Long: `Quoteline runs the request-for-quotation workflow for a purchasing team.
A quotation starts as a draft with line items and supplier bids (at most three
per item), goes open on submit, can bounce through negotiation, and ends
approved or rejected. Every transition lands in the audit trail and reviewers
get notified as work moves.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("QUOTELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(quotationCmd())
	rootCmd.AddCommand(productCmd())
	rootCmd.AddCommand(supplierCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fmt.Printf("workspace ready at %s (db %s)\n",
					viper.GetString("workspace"), db.Path(viper.GetString("workspace")))
				return nil
			})
		},
	}
}

func quotationCmd() *cobra.Command {
	q := &cobra.Command{
		Use:     "quotation",
		Aliases: []string{"q"},
		Short:   "Manage quotations",
		Long:    "Quotations carry line items and supplier bids through draft -> open -> negotiation -> approved/rejected.",
	}
	q.AddCommand(quotationCreateCmd())
	q.AddCommand(quotationListCmd())
	q.AddCommand(quotationShowCmd())
	q.AddCommand(quotationEditCmd())
	q.AddCommand(quotationAddBidCmd())
	q.AddCommand(quotationSubmitCmd())
	q.AddCommand(quotationNegotiateCmd())
	q.AddCommand(quotationReviseCmd())
	q.AddCommand(quotationApproveCmd())
	q.AddCommand(quotationRejectCmd())
	q.AddCommand(quotationDeleteCmd())
	q.AddCommand(quotationAuditCmd())
	return q
}

func quotationCreateCmd() *cobra.Command {
	var itemsFile string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft quotation",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := loadItems(itemsFile)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.Create(ctx, viper.GetString("actor-id"), items)
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringVar(&itemsFile, "items-file", "", "path to JSON file with line items")
	return cmd
}

func quotationListCmd() *cobra.Command {
	var f repo.QuotationFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List quotations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				quotations, err := e.List(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(quotations)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Display", "Status", "Created By", "Created At"})
				for _, q := range quotations {
					tw.AppendRow(table.Row{q.ID, q.DisplayID, q.Status, q.CreatedBy, q.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (draft, open, negotiation, approved, rejected)")
	cmd.Flags().StringVar(&f.CreatedBy, "created-by", "", "creator filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func quotationShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a quotation with items and bids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(q)
				}
				fmt.Printf("%s  %s  (%s)  by %s\n", q.DisplayID, q.Status, q.ID, q.CreatedBy)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Item", "Product", "Qty", "Supplier", "Unit Price", "Negotiation", "Lowest"})
				for _, it := range q.Items {
					for _, b := range it.Bids {
						neg := ""
						if b.NegotiationRequested {
							neg = "requested"
							if b.TargetPrice != nil {
								neg = "target " + b.TargetPrice.String()
							}
						}
						lowest := ""
						if it.LowestBidID != nil && *it.LowestBidID == b.ID {
							lowest = "*"
						}
						tw.AppendRow(table.Row{it.ID, it.ProductID, it.Quantity, b.SupplierID, b.UnitPrice.String(), neg, lowest})
					}
					if len(it.Bids) == 0 {
						tw.AppendRow(table.Row{it.ID, it.ProductID, it.Quantity, "", "", "", ""})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func quotationEditCmd() *cobra.Command {
	var itemsFile string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Replace the line-item set of a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := loadItems(itemsFile)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.EditDraft(ctx, viper.GetString("actor-id"), args[0], items)
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringVar(&itemsFile, "items-file", "", "path to JSON file with line items")
	_ = cmd.MarkFlagRequired("items-file")
	return cmd
}

func quotationAddBidCmd() *cobra.Command {
	var itemID, supplierID, price string
	cmd := &cobra.Command{
		Use:   "add-bid <id>",
		Short: "Add one bid to a line item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unitPrice, err := parseDecimalFlag("price", price)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.AddBid(ctx, viper.GetString("actor-id"), args[0], itemID, engine.BidInput{
					SupplierID: supplierID,
					UnitPrice:  unitPrice,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&itemID, "item", "", "line item id")
	cmd.Flags().StringVar(&supplierID, "supplier", "", "supplier id")
	cmd.Flags().StringVar(&price, "price", "", "unit price, e.g. 4.20")
	_ = cmd.MarkFlagRequired("item")
	_ = cmd.MarkFlagRequired("supplier")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func quotationSubmitCmd() *cobra.Command {
	return transitionCmd("submit <id>", "Submit a draft for analysis", func(ctx context.Context, e engine.Engine, id string) (domain.Quotation, error) {
		return e.Submit(ctx, viper.GetString("actor-id"), id)
	})
}

func quotationApproveCmd() *cobra.Command {
	return transitionCmd("approve <id>", "Approve an open quotation", func(ctx context.Context, e engine.Engine, id string) (domain.Quotation, error) {
		return e.Approve(ctx, viper.GetString("actor-id"), id)
	})
}

func quotationRejectCmd() *cobra.Command {
	return transitionCmd("reject <id>", "Reject an open quotation", func(ctx context.Context, e engine.Engine, id string) (domain.Quotation, error) {
		return e.Reject(ctx, viper.GetString("actor-id"), id)
	})
}

func transitionCmd(use, short string, fn func(context.Context, engine.Engine, string) (domain.Quotation, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := fn(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
}

func quotationNegotiateCmd() *cobra.Command {
	var bids []string
	var reason string
	cmd := &cobra.Command{
		Use:   "negotiate <id>",
		Short: "Flag bids for negotiation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(bids) == 0 {
				return fmt.Errorf("--bid required at least once")
			}
			var targets []engine.NegotiationTarget
			for _, raw := range bids {
				parts := strings.SplitN(raw, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid --bid %q, expected <bid_id>=<target_price>", raw)
				}
				price, err := parseDecimalFlag("bid target", parts[1])
				if err != nil {
					return err
				}
				targets = append(targets, engine.NegotiationTarget{
					BidID:       parts[0],
					TargetPrice: price,
					Reason:      reason,
				})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.RequestNegotiation(ctx, viper.GetString("actor-id"), args[0], targets)
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringArrayVar(&bids, "bid", []string{}, "bid to flag as <bid_id>=<target_price> (repeatable)")
	cmd.Flags().StringVar(&reason, "reason", "", "negotiation reason")
	return cmd
}

func quotationReviseCmd() *cobra.Command {
	var itemsFile string
	cmd := &cobra.Command{
		Use:   "revise <id>",
		Short: "Revise a quotation under negotiation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := loadItems(itemsFile)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.ReviseInNegotiation(ctx, viper.GetString("actor-id"), args[0], items)
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringVar(&itemsFile, "items-file", "", "path to JSON file with line items")
	_ = cmd.MarkFlagRequired("items-file")
	return cmd
}

func quotationDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a quotation and everything under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Delete(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	}
}

func quotationAuditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit <id>",
		Short: "Show the audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Repo.ListAuditEntries(ctx, repo.AuditFilters{QuotationID: args[0], Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"At", "Actor", "Description"})
				for _, entry := range entries {
					tw.AppendRow(table.Row{entry.CreatedAt, entry.ActorID, entry.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries")
	return cmd
}

func productCmd() *cobra.Command {
	p := &cobra.Command{Use: "product", Short: "Manage the product catalog"}
	var id, name, unit string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create or update a product",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				prod := domain.Product{ID: id, Name: name, Unit: unit, CreatedAt: nowRFC3339()}
				if err := e.Repo.UpsertProduct(ctx, prod); err != nil {
					return err
				}
				return printJSONOrTable(prod)
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "product id")
	add.Flags().StringVar(&name, "name", "", "name")
	add.Flags().StringVar(&unit, "unit", "", "unit of measure")
	_ = add.MarkFlagRequired("id")
	_ = add.MarkFlagRequired("name")
	list := &cobra.Command{
		Use:   "list",
		Short: "List products",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProducts(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	p.AddCommand(add, list)
	return p
}

func supplierCmd() *cobra.Command {
	s := &cobra.Command{Use: "supplier", Short: "Manage suppliers"}
	var id, name string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create or update a supplier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sup := domain.Supplier{ID: id, Name: name, CreatedAt: nowRFC3339()}
				if err := e.Repo.UpsertSupplier(ctx, sup); err != nil {
					return err
				}
				return printJSONOrTable(sup)
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "supplier id")
	add.Flags().StringVar(&name, "name", "", "name")
	_ = add.MarkFlagRequired("id")
	_ = add.MarkFlagRequired("name")
	list := &cobra.Command{
		Use:   "list",
		Short: "List suppliers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSuppliers(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	s.AddCommand(add, list)
	return s
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage the user directory"}
	var id, name, role string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create or update a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, ok := e.Config.Roles[role]; !ok {
					return fmt.Errorf("unknown role %s; roles come from quoteline.yml", role)
				}
				usr := domain.User{ID: id, Name: name, Role: role, CreatedAt: nowRFC3339()}
				if err := e.Repo.UpsertUser(ctx, usr); err != nil {
					return err
				}
				return printJSONOrTable(usr)
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "user id")
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringVar(&role, "role", "", "role from quoteline.yml")
	_ = add.MarkFlagRequired("id")
	_ = add.MarkFlagRequired("role")
	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListUsers(ctx, nil)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	u.AddCommand(add, list)
	return u
}

func notificationsCmd() *cobra.Command {
	n := &cobra.Command{Use: "notifications", Short: "Inbox for the current actor"}
	var unread bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListNotifications(ctx, repo.NotificationFilters{
					UserID:     viper.GetString("actor-id"),
					UnreadOnly: unread,
					Limit:      50,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"At", "Type", "Title", "Read"})
				for _, item := range items {
					tw.AppendRow(table.Row{item.CreatedAt, item.Type, item.Title, item.IsRead})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().BoolVar(&unread, "unread", false, "unread only")
	read := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.MarkNotificationRead(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	n.AddCommand(list, read)
	return n
}

func apikeyCmd() *cobra.Command {
	a := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw, key, err := mintAPIKey(ctx, e, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "key": raw})
				}
				fmt.Printf("API key %s created. Store it now, it is not shown again:\n%s\n", key.ID, raw)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	a.AddCommand(create, list, del)
	return a
}

func reportCmd() *cobra.Command {
	r := &cobra.Command{Use: "report", Short: "Reporting"}
	spend := &cobra.Command{
		Use:   "spend",
		Short: "Approved spend grouped by winning supplier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rows, err := e.ApprovedSpendBySupplier(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Supplier", "Items Won", "Total"})
				for _, row := range rows {
					tw.AppendRow(table.Row{row.SupplierID, row.Items, row.Total.String()})
				}
				tw.Render()
				return nil
			})
		},
	}
	r.AddCommand(spend)
	return r
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "quoteline.yml holds the role taxonomy, display-id prefix, notification links and webhook targets.",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				msg := ""
				if err != nil {
					msg = err.Error()
				}
				return printJSON(map[string]any{"ok": err == nil, "error": msg})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cfg.AddCommand(show, validate)
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := app.ResolveConfig(workspace)
			if err != nil {
				return err
			}
			if err := app.EnsureActor(cmd.Context(), repo.Repo{DB: conn}, viper.GetString("actor-id")); err != nil {
				return err
			}
			e := engine.New(conn, cfg, log.Default())
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("QUOTELINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("QUOTELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Quoteline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := app.ResolveConfig(workspace)
	if err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	if err := app.EnsureActor(ctx, r, viper.GetString("actor-id")); err != nil {
		return err
	}
	e := engine.New(conn, cfg, log.Default())
	return fn(ctx, e)
}

func mintAPIKey(ctx context.Context, e engine.Engine, actorID, name string) (string, domain.APIKey, error) {
	raw := uuid.New().String()
	key := domain.APIKey{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: nowRFC3339(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := tx.Commit(); err != nil {
		return "", domain.APIKey{}, err
	}
	return raw, key, nil
}

func loadItems(path string) ([]engine.LineItemInput, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []engine.LineItemInput
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("invalid items file: %w", err)
	}
	return items, nil
}

func parseDecimalFlag(name, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s %q: expected a decimal like 4.20", name, raw)
	}
	return d, nil
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

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
