package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memoria/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stores",
		Short: "List stores and their fields",
		Args:  cobra.NoArgs,
		RunE:  runStores,
	}

	RootCmd.AddCommand(cmd)
}

type fieldView struct {
	Name     string  `json:"name"`
	List     bool    `json:"list,omitempty"`
	Required bool    `json:"required,omitempty"`
	Identity bool    `json:"identity,omitempty"`
	Weight   float64 `json:"weight,omitempty"`
	Embedded bool    `json:"embedded,omitempty"`
}

type storeView struct {
	Store      model.StoreName `json:"store"`
	AppendOnly bool            `json:"append_only,omitempty"`
	Fields     []fieldView     `json:"fields"`
}

func runStores(cmd *cobra.Command, args []string) error {
	var views []storeView
	for _, name := range model.AllStores {
		sc := model.CoreSchema
		if name != model.StoreCore {
			sc = model.Schemas[name]
		}
		ident := map[string]bool{}
		for _, f := range sc.Identity {
			ident[f] = true
		}
		v := storeView{Store: name, AppendOnly: sc.AppendOnly}
		for _, f := range sc.Fields {
			v.Fields = append(v.Fields, fieldView{
				Name:     f.Name,
				List:     f.Kind == model.KindList,
				Required: f.Required,
				Identity: ident[f.Name],
				Weight:   f.Weight,
				Embedded: f.Embedded,
			})
		}
		views = append(views, v)
	}

	if !textOutput() {
		return printJSON(cmd.OutOrStdout(), views)
	}
	out := cmd.OutOrStdout()
	for _, v := range views {
		names := make([]string, len(v.Fields))
		for i, f := range v.Fields {
			names[i] = f.Name
			if f.Required {
				names[i] += "*"
			}
		}
		fmt.Fprintf(out, "%-16s %s\n", v.Store, strings.Join(names, " "))
	}
	return nil
}
