package commands

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/service"
)

var (
	inspectAddr string

	primaryColor   = lipgloss.Color("#FF79C6")
	secondaryColor = lipgloss.Color("#8BE9FD")
	accentColor    = lipgloss.Color("#50FA7B")
	mutedColor     = lipgloss.Color("#6272A4")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(18)

	valueStyle = lipgloss.NewStyle().
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 1)

	ownStyle = rowStyle.Copy().
			Foreground(accentColor)
)

// NewInspectCmd produces a command that shows the status of a running node,
// as served by its HTTP service.
func NewInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the status and network knowledge of a running node",
		RunE:  inspect,
	}

	cmd.Flags().StringVarP(&inspectAddr, "service", "s", _config.ServiceAddr, "IP:Port of the node's HTTP service")

	return cmd
}

func inspect(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	var stats map[string]string
	if err := getJSON(client, "/stats", &stats); err != nil {
		return err
	}

	var knowledge service.KnowledgeView
	if err := getJSON(client, "/knowledge", &knowledge); err != nil {
		return err
	}

	var members []service.MemberView
	if err := getJSON(client, "/members", &members); err != nil {
		return err
	}

	fmt.Println(lipgloss.JoinVertical(lipgloss.Left,
		renderStats(stats),
		renderSections(knowledge),
		renderMembers(members),
	))

	return nil
}

func getJSON(client *http.Client, path string, v interface{}) error {
	resp, err := client.Get("http://" + inspectAddr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return common.UnmarshalJSON(body, v)
}

func renderStats(stats map[string]string) string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := []string{titleStyle.Render("Node")}
	for _, k := range keys {
		lines = append(lines, labelStyle.Render(k)+valueStyle.Render(stats[k]))
	}
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderSections(k service.KnowledgeView) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(mutedColor)).
		Headers("PREFIX", "SECTION KEY", "GEN", "ELDERS").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row >= 0 && row < len(k.Sections) && k.Sections[row].SectionKey == k.SectionKey {
				return ownStyle
			}
			return rowStyle
		})

	for _, s := range k.Sections {
		prefix := s.Prefix
		if prefix == "" {
			prefix = "()"
		}
		t.Row(prefix, s.SectionKey, fmt.Sprint(s.MembershipGen), fmt.Sprint(len(s.Elders)))
	}

	header := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Network knowledge"),
		labelStyle.Render("genesis key")+valueStyle.Render(k.GenesisKey),
		labelStyle.Render("section chain")+valueStyle.Render(fmt.Sprint(k.ChainLen)),
	)
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, t.Render()))
}

func renderMembers(members []service.MemberView) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(mutedColor)).
		Headers("NAME", "ADDRESS", "AGE", "STATE").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return rowStyle
		})

	for _, m := range members {
		t.Row(m.Name, m.NetAddr, fmt.Sprint(m.Age), m.State)
	}

	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(fmt.Sprintf("Members (%d)", len(members))),
		t.Render(),
	))
}
