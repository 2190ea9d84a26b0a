package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fentz26/calmplan/internal/cascade"
	"github.com/fentz26/calmplan/internal/controlplane"
	"github.com/fentz26/calmplan/internal/models"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Manage clients",
}

var clientAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add a client",
	Args:  cobra.ExactArgs(1),
	RunE:  runClientAdd,
}

var clientListCmd = &cobra.Command{
	Use:   "list",
	Short: "List clients",
	RunE:  runClientList,
}

var clientServiceCmd = &cobra.Command{
	Use:   "service [name] [service]",
	Short: "Add a service to a client, with its auto-linked services",
	Args:  cobra.ExactArgs(2),
	RunE:  runClientService,
}

var clientNodeCmd = &cobra.Command{
	Use:   "node [name]",
	Short: "Show a client's progress and health",
	Args:  cobra.ExactArgs(1),
	RunE:  runClientNode,
}

var (
	clientServices []string
	clientAttrs    []string
)

func init() {
	clientCmd.AddCommand(clientAddCmd, clientListCmd, clientServiceCmd, clientNodeCmd)

	clientAddCmd.Flags().StringSliceVar(&clientServices, "service", nil, "Service the client receives (repeatable)")
	clientAddCmd.Flags().StringSliceVar(&clientAttrs, "attr", nil, "Attribute as key=value, e.g. business_type=company")
}

func runClientAdd(cmd *cobra.Command, args []string) error {
	attrs := make(map[string]string)
	for _, kv := range clientAttrs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("attribute %q must be key=value", kv)
		}
		attrs[k] = v
	}

	resp, err := apiPost("/clients", models.Client{Name: args[0], Services: clientServices, Attributes: attrs})
	if err != nil {
		return err
	}
	var res controlplane.ClientResult
	if err := json.Unmarshal(resp, &res); err != nil {
		return err
	}
	fmt.Printf("Created client: %s\n", res.Client.Name)
	printClientResult(res)
	return nil
}

func runClientService(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/clients/"+url.PathEscape(args[0])+"/services", map[string]string{"service": args[1]})
	if err != nil {
		return err
	}
	var res controlplane.ClientResult
	if err := json.Unmarshal(resp, &res); err != nil {
		return err
	}
	printClientResult(res)
	return nil
}

func printClientResult(res controlplane.ClientResult) {
	fmt.Printf("Services:   %s\n", strings.Join(res.Client.Services, ", "))
	if len(res.AddedServices) > 0 {
		fmt.Printf("Auto-added: %s\n", strings.Join(res.AddedServices, ", "))
	}
	if len(res.ReportCategories) > 0 {
		fmt.Printf("Reports:    %s\n", strings.Join(res.ReportCategories, ", "))
	}
}

func runClientList(cmd *cobra.Command, args []string) error {
	var clients []models.Client
	if err := apiGetJSON("/clients", &clients); err != nil {
		return err
	}
	if len(clients) == 0 {
		fmt.Println("No clients found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tACTIVE\tSERVICES")
	for _, c := range clients {
		fmt.Fprintf(w, "%s\t%t\t%s\n", c.Name, c.Active, strings.Join(c.Services, ", "))
	}
	w.Flush()
	return nil
}

func runClientNode(cmd *cobra.Command, args []string) error {
	var ns cascade.NodeState
	if err := apiGetJSON("/clients/"+url.PathEscape(args[0])+"/node", &ns); err != nil {
		return err
	}
	fmt.Printf("Client:    %s\n", ns.Client)
	fmt.Printf("Health:    %s\n", renderHealth(ns.Health))
	fmt.Printf("Progress:  %.0f%%\n", ns.Progress*100)
	fmt.Printf("Tasks:     %d total, %d completed, %d open\n", ns.Total, ns.Completed, ns.Open)
	fmt.Printf("Waiting:   %d\n", ns.Waiting)
	fmt.Printf("Issues:    %d\n", ns.Issues)
	fmt.Printf("Steps:     %d/%d\n", ns.StepsDone, ns.StepsTotal)
	return nil
}
