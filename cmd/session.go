// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/sessionkeeper/config"
	"github.com/cardinalhq/sessionkeeper/internal/awsclient"
	"github.com/cardinalhq/sessionkeeper/internal/errkind"
	"github.com/cardinalhq/sessionkeeper/internal/recordstore"
	"github.com/cardinalhq/sessionkeeper/internal/records"
	"github.com/cardinalhq/sessionkeeper/internal/transition"
)

var (
	findIndex string
	saveFile  string
)

func init() {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Read and update session and job records",
	}
	rootCmd.AddCommand(cmd)

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withAccess(c, func(ctx context.Context, access *recordstore.Access) error {
				return sessionGet(ctx, access, c.OutOrStdout(), args[0])
			})
		},
	}
	cmd.AddCommand(getCmd)

	findCmd := &cobra.Command{
		Use:   "find <key>",
		Short: "Print the first record whose indexed attribute equals key",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withAccess(c, func(ctx context.Context, access *recordstore.Access) error {
				return sessionFind(ctx, access, c.OutOrStdout(), findIndex, args[0])
			})
		},
	}
	findCmd.Flags().StringVar(&findIndex, "index", recordstore.DeviceIndex, "Index to query")
	cmd.AddCommand(findCmd)

	saveCmd := &cobra.Command{
		Use:   "save",
		Short: "Validate and store a record read as JSON from --file or stdin",
		RunE: func(c *cobra.Command, _ []string) error {
			in := c.InOrStdin()
			if saveFile != "" && saveFile != "-" {
				f, err := os.Open(saveFile)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", saveFile, err)
				}
				defer f.Close()
				in = f
			}
			return withAccess(c, func(ctx context.Context, access *recordstore.Access) error {
				return sessionSave(ctx, access, in, c.OutOrStdout())
			})
		},
	}
	saveCmd.Flags().StringVarP(&saveFile, "file", "f", "", "Record JSON file (default stdin)")
	cmd.AddCommand(saveCmd)

	transitionCmd := &cobra.Command{
		Use:   "transition <id> <connection-status>",
		Short: "Move a record's peer connection to a new status if the transition is legal",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return withAccess(c, func(ctx context.Context, access *recordstore.Access) error {
				return sessionTransition(ctx, access, c.OutOrStdout(), args[0], records.ConnectionStatus(args[1]))
			})
		},
	}
	cmd.AddCommand(transitionCmd)

	nextCmd := &cobra.Command{
		Use:   "next <id>",
		Short: "Print the statuses a record may legally move to",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withAccess(c, func(ctx context.Context, access *recordstore.Access) error {
				return sessionNext(ctx, access, transition.DefaultTable(), c.OutOrStdout(), args[0])
			})
		},
	}
	cmd.AddCommand(nextCmd)
}

// withAccess loads config, opens the configured store and runs fn.
func withAccess(c *cobra.Command, fn func(context.Context, *recordstore.Access) error) error {
	ctx, cancel := handleSignals(c.Context())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var mgr *awsclient.Manager
	if cfg.Store.Backend == config.StoreDynamoDB || cfg.Diagnostics.CloudWatchNamespace != "" {
		if mgr, err = newAWSManager(ctx, cfg); err != nil {
			return err
		}
	}
	sink := newSink(cfg, mgr)
	store, closeStore, err := newStore(ctx, cfg, mgr, config.ServiceTypeSession)
	if err != nil {
		return err
	}
	defer closeStore()

	return fn(ctx, newAccess(store, cfg, sink))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sessionGet(ctx context.Context, access *recordstore.Access, w io.Writer, id string) error {
	rec, err := access.Load(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return errkind.New(errkind.NotFound, "get", "record %q not found", id)
	}
	return writeJSON(w, rec)
}

func sessionFind(ctx context.Context, access *recordstore.Access, w io.Writer, index, key string) error {
	rec, err := access.FindByIndex(ctx, index, key)
	if err != nil {
		return err
	}
	if rec == nil {
		return errkind.New(errkind.NotFound, "find", "no record with %s = %q", index, key)
	}
	return writeJSON(w, rec)
}

func sessionSave(ctx context.Context, access *recordstore.Access, r io.Reader, w io.Writer) error {
	var rec records.Record
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return errkind.Wrap(errkind.Validation, "save", err, "decode record")
	}
	stored, err := access.Save(ctx, &rec)
	if err != nil {
		return err
	}
	return writeJSON(w, stored)
}

type transitionResult struct {
	ID      string                   `json:"id"`
	Target  records.ConnectionStatus `json:"target"`
	Applied bool                     `json:"applied"`
}

func sessionTransition(ctx context.Context, access *recordstore.Access, w io.Writer, id string, target records.ConnectionStatus) error {
	applied, err := access.SafeTransitionUpdate(ctx, id, target)
	if err != nil {
		return err
	}
	return writeJSON(w, transitionResult{ID: id, Target: target, Applied: applied})
}

type nextStatuses struct {
	ID               string             `json:"id"`
	Status           records.Status     `json:"status,omitempty"`
	Next             []transition.State `json:"next"`
	ConnectionStatus string             `json:"connectionStatus,omitempty"`
	ConnectionNext   []transition.State `json:"connectionNext,omitempty"`
}

func sessionNext(ctx context.Context, access *recordstore.Access, table transition.Table, w io.Writer, id string) error {
	rec, err := access.Load(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return errkind.New(errkind.NotFound, "next", "record %q not found", id)
	}
	machine, ok := transition.ForRecordKind(rec.Kind)
	if !ok {
		return errkind.New(errkind.Validation, "next", "no state machine for record kind %q", rec.Kind)
	}

	res := nextStatuses{ID: rec.ID, Status: rec.Status, Next: []transition.State{}}
	if rec.Status != "" {
		res.Next = append(res.Next, table.Targets(machine, transition.State(rec.Status))...)
	}
	if conn, ok := rec.ConnectionStatus(); ok && conn != "" {
		res.ConnectionStatus = string(conn)
		res.ConnectionNext = table.Targets(transition.KindPeerConnection, transition.State(conn))
	}
	return writeJSON(w, res)
}
