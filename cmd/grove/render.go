// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"

	"github.com/grove-systems/grove/lib/config"
	"github.com/grove-systems/grove/lib/registry"
	"github.com/grove-systems/grove/lib/variant"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	runningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	deadStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	noServerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	nameStyle     = lipgloss.NewStyle().Bold(true)
)

// showStatus prints the fleet overview: every mind with its variants
// nested beneath it.
func showStatus(cfg config.Config, store *registry.Store) error {
	minds, err := store.Minds()
	if err != nil {
		return fmt.Errorf("reading registry: %w", err)
	}
	if len(minds) == 0 {
		fmt.Println("no minds registered")
		return nil
	}
	sort.Slice(minds, func(i, j int) bool { return minds[i].Name < minds[j].Name })

	fmt.Println(headerStyle.Render(fmt.Sprintf("%-24s %6s  %-9s %s", "NAME", "PORT", "STAGE", "STATE")))
	for _, mind := range minds {
		state := noServerStyle.Render("stopped")
		if mind.Running {
			state = runningStyle.Render("running")
		}
		fmt.Printf("%s %6d  %-9s %s\n",
			nameStyle.Render(fmt.Sprintf("%-24s", mind.Name)), mind.Port, mind.Stage, state)

		variants, err := store.Variants(mind.Name)
		if err != nil {
			return fmt.Errorf("reading variants of %s: %w", mind.Name, err)
		}
		for _, entry := range variants {
			state := noServerStyle.Render("stopped")
			if entry.Running {
				state = runningStyle.Render("running")
			}
			fmt.Printf("%s %6d  %-9s %s\n",
				fmt.Sprintf("  @%-22s", entry.Name), entry.Port, "variant", state)
		}
	}
	return nil
}

// showVariants prints a mind's variants with freshly probed state.
// Probing also reconciles the registry's durable running flags with
// observation, so a dead variant shows as dead here and as stopped in
// later status output.
func showVariants(cfg config.Config, store *registry.Store, mind string) error {
	if _, ok, err := store.Mind(mind); err != nil {
		return fmt.Errorf("reading registry: %w", err)
	} else if !ok {
		return fmt.Errorf("unknown mind %q", mind)
	}

	manager := newManager(cfg, store)
	statuses, err := manager.List(context.Background(), mind)
	if err != nil {
		return fmt.Errorf("listing variants: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Printf("%s has no variants\n", mind)
		return nil
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })

	fmt.Println(headerStyle.Render(fmt.Sprintf("%-20s %-20s %6s  %-10s %s", "NAME", "BRANCH", "PORT", "STATE", "CREATED")))
	for _, status := range statuses {
		fmt.Printf("%s %-20s %6d  %-10s %s\n",
			nameStyle.Render(fmt.Sprintf("%-20s", status.Name)),
			status.Branch, status.Port,
			renderState(status.State),
			status.Created.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func renderState(state variant.State) string {
	// Pad before styling: ANSI escapes confuse %-10s width math.
	padded := fmt.Sprintf("%-10s", string(state))
	switch state {
	case variant.StateRunning:
		return runningStyle.Render(padded)
	case variant.StateDead:
		return deadStyle.Render(padded)
	default:
		return noServerStyle.Render(padded)
	}
}
