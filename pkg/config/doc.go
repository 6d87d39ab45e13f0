// Package config loads and validates the driver configuration and evaluates
// Starlark row transforms.
//
// # Sources
//
// Configuration is layered, later sources winning:
//
//  1. DefaultConfig
//  2. a YAML file (unknown keys are rejected, a missing file is ignored)
//  3. environment variables: CARGA_ followed by the field's env tag
//  4. dot-path overrides from the command line ("batch.concurrency=4")
//
// The merged result is checked with go-playground/validator struct tags,
// selector validation and telemetry.Config.Validate; every problem is
// reported in one error.
//
// # Example
//
//	engine:
//	  base_url: http://localhost:8080/kie-server/services/rest/server
//	  container_id: tramites_1.0.0
//	  process_id: tramites.solicitud
//	  username: wbadmin
//	batch:
//	  layout: stages
//	  instance_sheet: Hoja1
//	  date_columns: [fec_oficio_sol]
//	  stages:
//	    - name: registro
//	    - name: sedatu
//	      sheet: Hoja2
//	      node_id: _E973B1E6
//	      selector: {node_id: _E973B1E6, owner: wbadmin, match: any}
//
// # Row Transforms
//
// batch.transform names a Starlark file run once per record. Record values
// are predeclared by header name and as the frozen dict row; exported
// globals replace or add variables, None removes one:
//
//	monto = row["monto"] * 100
//	origen = "carga"
//	nota = None
package config
