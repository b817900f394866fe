package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/envsense/envsense/internal/alerting"
	"github.com/envsense/envsense/internal/app"
	"github.com/envsense/envsense/internal/auth"
	datastore "github.com/envsense/envsense/internal/datastore/v2"
	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/errors"
	"github.com/envsense/envsense/internal/logger"
)

// withStore opens and migrates the store for the duration of fn.
func withStore(rt *runtime, fn func(store *datastore.Manager, repos app.Repositories) error) error {
	store, err := app.OpenStore(rt.settings)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			rt.log.Warn("failed to close store", logger.Error(err))
		}
	}()
	return fn(store, app.NewRepositories(store))
}

func newMigrateCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(rt, func(store *datastore.Manager, _ app.Repositories) error {
				fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", store.Dialect())
				return nil
			})
		},
	}
}

func newCleanupCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete closed alert records past the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(rt, func(_ *datastore.Manager, repos app.Repositories) error {
				sweeper := alerting.NewRetentionSweeper(repos.Records,
					rt.settings.Alerting.RetentionWindow(), rt.settings.Alerting.CleanupInterval.Std(), rt.log, nil)
				n, err := sweeper.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d alert records\n", n)
				return nil
			})
		},
	}
}

func newUserCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	var username, password, email string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" {
				return errors.Validation("cli", "username", "--username is required")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			return withStore(rt, func(_ *datastore.Manager, repos app.Repositories) error {
				user := &entities.User{Username: username, PasswordHash: hash, Email: email}
				if err := repos.Users.CreateUser(cmd.Context(), user); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created user %q (id %d)\n", user.Username, user.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&username, "username", "", "login name")
	add.Flags().StringVar(&password, "password", "", "login password")
	add.Flags().StringVar(&email, "email", "", "contact address")

	cmd.AddCommand(add)
	return cmd
}

func newDeviceCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage registered devices",
	}

	var serial, name, owner, deviceType, location string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a device for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if serial == "" {
				return errors.Validation("cli", "serial", "--serial is required")
			}
			if owner == "" {
				return errors.Validation("cli", "owner", "--owner is required")
			}
			return withStore(rt, func(_ *datastore.Manager, repos app.Repositories) error {
				ctx := cmd.Context()
				user, err := repos.Users.GetUserByUsername(ctx, owner)
				if err != nil {
					return err
				}
				if name == "" {
					name = serial
				}
				device := &entities.Device{
					Serial:     serial,
					Name:       name,
					DeviceType: deviceType,
					Location:   location,
					Status:     entities.DeviceStatusOffline,
					OwnerID:    user.ID,
				}
				if err := repos.Devices.CreateDevice(ctx, device); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "registered device %s (id %d) for %s\n", device.Serial, device.ID, user.Username)
				return nil
			})
		},
	}
	add.Flags().StringVar(&serial, "serial", "", "hardware serial, also the MQTT topic segment")
	add.Flags().StringVar(&name, "name", "", "display name (default: serial)")
	add.Flags().StringVar(&owner, "owner", "", "owning username")
	add.Flags().StringVar(&deviceType, "type", "", "device model")
	add.Flags().StringVar(&location, "location", "", "installation site")

	status := &cobra.Command{
		Use:   "status <serial> <online|offline|maintenance|error>",
		Short: "Set the connectivity status of a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := entities.DeviceStatus(args[1])
			if !st.Valid() {
				return errors.Validation("cli", "status", "unknown device status %q", args[1])
			}
			return withStore(rt, func(_ *datastore.Manager, repos app.Repositories) error {
				return setDeviceStatus(cmd.Context(), cmd.OutOrStdout(), repos, args[0], st)
			})
		},
	}

	cmd.AddCommand(add, status)
	return cmd
}

func setDeviceStatus(ctx context.Context, out io.Writer, repos app.Repositories, serial string, st entities.DeviceStatus) error {
	device, err := repos.Devices.GetDeviceBySerial(ctx, serial)
	if err != nil {
		return err
	}
	if err := repos.Devices.UpdateStatus(ctx, device.ID, st); err != nil {
		return err
	}
	fmt.Fprintf(out, "device %s is now %s\n", serial, st)
	return nil
}
