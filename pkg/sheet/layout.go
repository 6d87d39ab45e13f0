package sheet

import (
	"fmt"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
)

// LayoutKind selects how sheets map onto work units.
type LayoutKind string

const (
	// LayoutRows makes every record of the instance sheet one unit with a
	// single stage carrying the same variables.
	LayoutRows LayoutKind = "rows"

	// LayoutSheets makes the first record of each sheet one unit.
	LayoutSheets LayoutKind = "sheets"

	// LayoutStages makes record i of the instance sheet unit i, and record i
	// of every stage sheet that unit's stage payload.
	LayoutStages LayoutKind = "stages"
)

// DefaultStageName names the single stage of rows and sheets layouts.
const DefaultStageName = "complete"

// StageSpec describes one stage of the stages layout.
type StageSpec struct {
	// Name identifies the stage in reports. Defaults to the sheet name.
	Name string

	// Sheet supplies the stage payload. Empty means the instance sheet.
	Sheet string

	// NodeID is triggered before discovery. Empty means the next task.
	NodeID string

	// Required makes a missing sheet an input error instead of dropping the stage.
	Required bool

	// Selector picks the stage task.
	Selector engine.Selector
}

// TransformFunc rewrites a record's variables before units are built.
type TransformFunc func(engine.VariableSet) (engine.VariableSet, error)

// Layout configures Build.
type Layout struct {
	Kind LayoutKind

	// InstanceSheet holds the instance records. Defaults to the first sheet.
	InstanceSheet string

	// Sheets restricts the sheets layout. Defaults to every sheet.
	Sheets []string

	// Stages configures the stages layout. Empty means one default stage fed
	// by the instance record.
	Stages []StageSpec

	// Selector is used by the single stage of rows and sheets layouts.
	Selector engine.Selector

	// Transform is applied to every record used, if set.
	Transform TransformFunc
}

// Build converts a workbook into work units according to the layout.
func Build(wb *Workbook, layout Layout) ([]engine.WorkUnit, error) {
	if wb == nil || len(wb.Sheets) == 0 {
		return nil, engine.NewInputError("workbook has no sheets", nil).WithCode(engine.ErrCodeMissingSheet)
	}

	switch layout.Kind {
	case "", LayoutRows:
		return buildRows(wb, layout)
	case LayoutSheets:
		return buildSheets(wb, layout)
	case LayoutStages:
		return buildStages(wb, layout)
	default:
		return nil, engine.NewInputError(fmt.Sprintf("unknown layout %q", layout.Kind), nil)
	}
}

func buildRows(wb *Workbook, layout Layout) ([]engine.WorkUnit, error) {
	s, err := instanceSheet(wb, layout)
	if err != nil {
		return nil, err
	}

	units := make([]engine.WorkUnit, 0, len(s.Records))
	for _, rec := range s.Records {
		vars, err := transform(layout, s, rec)
		if err != nil {
			return nil, err
		}
		units = append(units, engine.WorkUnit{
			Index:     len(units),
			Label:     label(s.Name, rec.Row),
			Variables: vars,
			Stages: []engine.Stage{{
				Name:      DefaultStageName,
				Selector:  layout.Selector,
				Variables: vars,
			}},
		})
	}
	return units, nil
}

func buildSheets(wb *Workbook, layout Layout) ([]engine.WorkUnit, error) {
	names := layout.Sheets
	if len(names) == 0 {
		names = wb.Names()
	}

	var units []engine.WorkUnit
	for _, name := range names {
		s, ok := wb.Sheet(name)
		if !ok {
			return nil, missingSheet(name)
		}
		if len(s.Records) == 0 {
			continue
		}
		rec := s.Records[0]
		vars, err := transform(layout, s, rec)
		if err != nil {
			return nil, err
		}
		units = append(units, engine.WorkUnit{
			Index:     len(units),
			Label:     label(s.Name, rec.Row),
			Variables: vars,
			Stages: []engine.Stage{{
				Name:      s.Name,
				Selector:  layout.Selector,
				Variables: vars,
			}},
		})
	}
	return units, nil
}

func buildStages(wb *Workbook, layout Layout) ([]engine.WorkUnit, error) {
	inst, err := instanceSheet(wb, layout)
	if err != nil {
		return nil, err
	}

	specs := layout.Stages
	if len(specs) == 0 {
		specs = []StageSpec{{Name: inst.Name, Selector: layout.Selector}}
	}

	// Resolve stage sheets up front so a short sheet fails the whole request.
	sheets := make([]*Sheet, len(specs))
	active := make([]bool, len(specs))
	for i, spec := range specs {
		if spec.Sheet == "" || spec.Sheet == inst.Name {
			sheets[i] = inst
			active[i] = true
			continue
		}
		s, ok := wb.Sheet(spec.Sheet)
		if !ok {
			if spec.Required {
				return nil, missingSheet(spec.Sheet)
			}
			continue
		}
		if len(s.Records) < len(inst.Records) {
			return nil, engine.NewInputError(
				fmt.Sprintf("sheet %q has %d records, instance sheet %q has %d",
					s.Name, len(s.Records), inst.Name, len(inst.Records)), nil).
				WithCode(engine.ErrCodeMissingRecord)
		}
		sheets[i] = s
		active[i] = true
	}

	units := make([]engine.WorkUnit, 0, len(inst.Records))
	for i, rec := range inst.Records {
		vars, err := transform(layout, inst, rec)
		if err != nil {
			return nil, err
		}

		var stages []engine.Stage
		for j, spec := range specs {
			if !active[j] {
				continue
			}
			payload := vars
			if sheets[j] != inst {
				payload, err = transform(layout, sheets[j], sheets[j].Records[i])
				if err != nil {
					return nil, err
				}
			}
			name := spec.Name
			if name == "" {
				name = sheets[j].Name
			}
			stages = append(stages, engine.Stage{
				Name:          name,
				TriggerNodeID: spec.NodeID,
				Selector:      spec.Selector,
				Variables:     payload,
			})
		}

		units = append(units, engine.WorkUnit{
			Index:     i,
			Label:     label(inst.Name, rec.Row),
			Variables: vars,
			Stages:    stages,
		})
	}
	return units, nil
}

func instanceSheet(wb *Workbook, layout Layout) (*Sheet, error) {
	if layout.InstanceSheet == "" {
		return wb.Sheets[0], nil
	}
	s, ok := wb.Sheet(layout.InstanceSheet)
	if !ok {
		return nil, missingSheet(layout.InstanceSheet)
	}
	return s, nil
}

func transform(layout Layout, s *Sheet, rec Record) (engine.VariableSet, error) {
	vars := rec.Values.Clone()
	if layout.Transform == nil {
		return vars, nil
	}
	out, err := layout.Transform(vars)
	if err != nil {
		return nil, engine.NewInputError(fmt.Sprintf("transform failed for %s", label(s.Name, rec.Row)), err)
	}
	return out, nil
}

func missingSheet(name string) error {
	return engine.NewInputError(fmt.Sprintf("sheet %q not found", name), nil).
		WithCode(engine.ErrCodeMissingSheet)
}

func label(sheet string, row int) string {
	return fmt.Sprintf("%s row %d", sheet, row)
}
