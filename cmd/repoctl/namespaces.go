package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var namespacesRoleFilter string

var namespacesCmd = &cobra.Command{
	Use:   "namespaces <username>",
	Short: "List namespaces where a user collaborates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		path := "/api/v1/rbac/users/" + args[0] + "/namespaces"
		if namespacesRoleFilter != "" {
			path += "?roles=" + namespacesRoleFilter
		}
		var namespaces []struct {
			Name string `json:"name"`
		}
		if err := client.getJSON(path, &namespaces); err != nil {
			return err
		}
		if len(namespaces) == 0 {
			fmt.Println("no namespaces")
			return nil
		}
		for _, ns := range namespaces {
			fmt.Println(ns.Name)
		}
		return nil
	},
}

var collaboratorsCmd = &cobra.Command{
	Use:   "collaborators <namespace>",
	Short: "List collaborators and their roles on a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		var collaborators []struct {
			Username  string   `json:"userId"`
			Roles     []string `json:"roles"`
			Technical bool     `json:"isTechnicalUser"`
		}
		err := client.getJSON("/api/v1/rbac/namespaces/"+args[0]+"/collaborators", &collaborators)
		if err != nil {
			return err
		}
		for _, c := range collaborators {
			kind := ""
			if c.Technical {
				kind = " (technical)"
			}
			fmt.Printf("%s%s: %s\n", c.Username, kind, strings.Join(c.Roles, ","))
		}
		return nil
	},
}

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Manage collaborator roles on a namespace",
}

var rolesSetCmd = &cobra.Command{
	Use:   "set <namespace> <username> <role>[,<role>...]",
	Short: "Overwrite a collaborator's roles",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		body := map[string]any{"roles": strings.Split(args[2], ",")}
		var out struct {
			Changed bool `json:"changed"`
		}
		path := "/api/v1/rbac/namespaces/" + args[0] + "/collaborators/" + args[1] + "/roles"
		if err := client.do(http.MethodPut, path, body, &out); err != nil {
			return err
		}
		fmt.Printf("changed: %v\n", out.Changed)
		return nil
	},
}

var rolesAddCmd = &cobra.Command{
	Use:   "add <namespace> <username> <role>",
	Short: "Grant a single role to a collaborator",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		var out struct {
			Changed bool `json:"changed"`
		}
		path := "/api/v1/rbac/namespaces/" + args[0] + "/collaborators/" + args[1] + "/roles/" + args[2]
		if err := client.do(http.MethodPost, path, nil, &out); err != nil {
			return err
		}
		fmt.Printf("changed: %v\n", out.Changed)
		return nil
	},
}

var rolesRemoveCmd = &cobra.Command{
	Use:   "remove <namespace> <username> <role>",
	Short: "Revoke a single role from a collaborator",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		var out struct {
			Changed bool `json:"changed"`
		}
		path := "/api/v1/rbac/namespaces/" + args[0] + "/collaborators/" + args[1] + "/roles/" + args[2]
		if err := client.do(http.MethodDelete, path, nil, &out); err != nil {
			return err
		}
		fmt.Printf("changed: %v\n", out.Changed)
		return nil
	},
}

func init() {
	namespacesCmd.Flags().StringVar(&namespacesRoleFilter, "roles", "", "Filter by roles (comma-separated, all must be held)")
	rolesCmd.AddCommand(rolesSetCmd)
	rolesCmd.AddCommand(rolesAddCmd)
	rolesCmd.AddCommand(rolesRemoveCmd)
}
