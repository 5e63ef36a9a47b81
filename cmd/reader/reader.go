// Package reader manages reader accounts from the command line.
package reader

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/tphakala/readerstudy/internal/app"
	"github.com/tphakala/readerstudy/internal/auth"
	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"github.com/tphakala/readerstudy/internal/datastore/repository"
	"github.com/tphakala/readerstudy/internal/logger"
	"github.com/tphakala/readerstudy/internal/study"
)

// generatedPasswordLength is the length of passwords created for readers
// added without one.
const generatedPasswordLength = 16

// operator is the identity used for command line changes. Audit entries
// written on its behalf carry no reader.
var operator = auth.Identity{Role: entities.RoleAdmin}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// Command creates the reader command and its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reader",
		Short: "Manage reader accounts",
	}

	cmd.AddCommand(
		createCommand(settings),
		listCommand(settings),
		setGroupCommand(settings),
		deactivateCommand(settings),
	)

	return cmd
}

func createCommand(settings *conf.Settings) *cobra.Command {
	var req study.CreateReaderRequest
	var role string
	var group int

	cmd := &cobra.Command{
		Use:   "create <code>",
		Short: "Create a reader or admin account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ReaderCode = args[0]
			req.Role = entities.ReaderRole(role)
			if group > 0 {
				req.Group = &group
			}

			generated := req.Password == ""
			if generated {
				req.Password = conf.GenerateRandomSecret()[:generatedPasswordLength]
			}

			return withApp(cmd, settings, func(ctx context.Context, a *app.App) error {
				reader, err := a.ReaderSvc.Create(ctx, operator, &req)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created %s %s (id %d)\n", reader.Role, reader.ReaderCode, reader.ID)
				if generated {
					fmt.Fprintf(out, "Password: %s\n", req.Password)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&req.Email, "email", "", "Contact email")
	cmd.Flags().StringVar(&req.Password, "password", "", "Initial password (generated when empty)")
	cmd.Flags().StringVar(&role, "role", string(entities.RoleReader), "Account role: reader or admin")
	cmd.Flags().IntVar(&group, "group", 0, "Crossover group for readers")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	var role string
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := repository.ReaderFilter{Role: entities.ReaderRole(role), ActiveOnly: activeOnly}
			if filter.Role != "" && !filter.Role.IsValid() {
				return fmt.Errorf("unknown role %q", role)
			}

			return withApp(cmd, settings, func(ctx context.Context, a *app.App) error {
				readers, err := a.ReaderSvc.List(ctx, operator, filter)
				if err != nil {
					return err
				}
				renderReaders(cmd.OutOrStdout(), readers)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "Only list this role")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only list active accounts")

	return cmd
}

func setGroupCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "set-group <code> <group>",
		Short: "Assign a reader to a crossover group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			group, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid group %q: %w", args[1], err)
			}

			return withApp(cmd, settings, func(ctx context.Context, a *app.App) error {
				reader, err := a.ReaderSvc.GetByCode(ctx, operator, args[0])
				if err != nil {
					return err
				}
				if _, err := a.ReaderSvc.SetGroup(ctx, operator, reader.ID, group); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reader %s moved to group %d\n", reader.ReaderCode, group)
				return nil
			})
		},
	}
}

func deactivateCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <code>",
		Short: "Disable an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, settings, func(ctx context.Context, a *app.App) error {
				reader, err := a.ReaderSvc.GetByCode(ctx, operator, args[0])
				if err != nil {
					return err
				}
				if _, err := a.ReaderSvc.Deactivate(ctx, operator, reader.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reader %s deactivated\n", reader.ReaderCode)
				return nil
			})
		},
	}
}

// withApp opens the application for the duration of fn.
func withApp(cmd *cobra.Command, settings *conf.Settings, fn func(context.Context, *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return app.Run(ctx, settings, logger.Global().Module("cli"), fn)
}

func renderReaders(w io.Writer, readers []entities.Reader) {
	if len(readers) == 0 {
		fmt.Fprintln(w, "No readers found")
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "CODE", "NAME", "ROLE", "GROUP", "ACTIVE", "LAST LOGIN").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for i := range readers {
		r := &readers[i]
		group := "-"
		if r.GroupNumber != nil {
			group = strconv.Itoa(*r.GroupNumber)
		}
		lastLogin := "never"
		if r.LastLoginAt != nil {
			lastLogin = r.LastLoginAt.Format("2006-01-02 15:04")
		}
		t.Row(
			strconv.FormatUint(uint64(r.ID), 10),
			r.ReaderCode,
			r.Name,
			string(r.Role),
			group,
			strconv.FormatBool(r.IsActive),
			lastLogin,
		)
	}

	fmt.Fprintln(w, t.String())
}
