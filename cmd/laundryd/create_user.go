package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"laundry-booking-backend/internal/app"
	"laundry-booking-backend/internal/auth"
	"laundry-booking-backend/internal/model"
)

var (
	newUserEmail    string
	newUserPassword string
	newUserName     string
	newUserRole     string
)

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create an account, typically a laundry staff or admin account",
	Example: `  laundryd create-user --email desk@campus.example --password 'changeme1' --role laundry
  laundryd create-user --email root@campus.example --password 'changeme1' --role admin`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		entities, gormDB, err := app.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if sqlDB, err := gormDB.DB(); err == nil {
			defer sqlDB.Close()
		}

		accounts := auth.NewAccounts(entities, cfg.Auth.BcryptCost)
		u, err := accounts.CreateStaff(cmd.Context(), auth.Registration{
			Email:    newUserEmail,
			Password: newUserPassword,
			Name:     newUserName,
		}, model.Role(newUserRole))
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s user %s (%s)\n", u.Role, u.Email, u.ID)
		return nil
	},
}

func init() {
	createUserCmd.Flags().StringVar(&newUserEmail, "email", "", "Login email (required)")
	createUserCmd.Flags().StringVar(&newUserPassword, "password", "", "Initial password, at least 8 characters (required)")
	createUserCmd.Flags().StringVar(&newUserName, "name", "", "Display name")
	createUserCmd.Flags().StringVar(&newUserRole, "role", string(model.RoleLaundry), "One of student, laundry, admin")
	_ = createUserCmd.MarkFlagRequired("email")
	_ = createUserCmd.MarkFlagRequired("password")
}
