// smoke-workflow drives one report through the full happy path against the
// in-memory stores: draft, ready, transmission, package, transmission to the
// administration, automatic approval and assignment, resolution, confirmation.
package main

import (
	"context"
	"log"

	"signalo.org/internal/notify"
	"signalo.org/internal/organizations"
	"signalo.org/internal/reporting"
)

func main() {
	log.SetFlags(0)
	ctx := context.Background()

	orgStore := organizations.NewInMemory()
	orgs, err := organizations.NewService(orgStore)
	if err != nil {
		log.Fatalf("organizations service: %v", err)
	}

	stream := notify.NewStream()
	defer stream.Close()
	reports, err := reporting.NewService(reporting.NewInMemory(), orgs, reporting.WithNotifier(stream))
	if err != nil {
		log.Fatalf("reporting service: %v", err)
	}

	collectivity := &organizations.Organization{
		Kind: organizations.KindCollectivity,
		Name: "Commune de Pau",
	}
	if err := orgs.CreateOrganization(ctx, collectivity); err != nil {
		log.Fatalf("create collectivity: %v", err)
	}
	ddfip := &organizations.Organization{
		Kind:              organizations.KindDDFIP,
		Name:              "DDFIP des Pyrénées-Atlantiques",
		DepartmentCode:    "64",
		AutoAssignReports: true,
		AutoApprovePkgs:   true,
	}
	if err := orgs.CreateOrganization(ctx, ddfip); err != nil {
		log.Fatalf("create ddfip: %v", err)
	}
	office := &organizations.Office{
		DDFIPID:      ddfip.ID,
		Name:         "SDIF Pau",
		Competences:  []string{reporting.FormEvaluationLocalHabitation},
		CommuneCodes: []string{"64445"},
	}
	if err := orgs.CreateOffice(ctx, office); err != nil {
		log.Fatalf("create office: %v", err)
	}

	report := &reporting.Report{
		CollectivityID: collectivity.ID,
		FormType:       reporting.FormEvaluationLocalHabitation,
		Priority:       reporting.PriorityMedium,
		CommuneCode:    "64445",
		Anomalies:      []string{"categorie"},
	}
	if err := reports.CreateReport(ctx, report); err != nil {
		log.Fatalf("create report: %v", err)
	}
	log.Printf("report %s: %s", report.ID, report.State())

	fields := make(map[string]string)
	for _, name := range reporting.RequiredFields(report.FormType, report.Anomalies) {
		fields[name] = "smoke"
	}
	if _, err := reports.SetFields(ctx, report.ID, fields); err != nil {
		log.Fatalf("set fields: %v", err)
	}
	step := func(name string, op func() (*reporting.Report, error)) *reporting.Report {
		r, err := op()
		if err != nil {
			log.Fatalf("%s: %v", name, err)
		}
		log.Printf("report %s after %s: %s", r.ID, name, r.State())
		return r
	}

	step("ready", func() (*reporting.Report, error) { return reports.MarkReady(ctx, report.ID) })
	queued := step("transmit", func() (*reporting.Report, error) { return reports.AddToTransmission(ctx, report.ID) })

	pkg, err := reports.CreatePackageFromTransmission(ctx, queued.TransmissionID)
	if err != nil {
		log.Fatalf("create package: %v", err)
	}
	log.Printf("package %s (%s): %s", pkg.ID, pkg.Reference, pkg.State())

	pkg, err = reports.TransmitPackage(ctx, pkg.ID)
	if err != nil {
		log.Fatalf("transmit package: %v", err)
	}
	log.Printf("package %s after transmit: %s", pkg.ID, pkg.State())

	// Auto-approval and auto-assignment ran inline; the report should now
	// sit with the office.
	assigned, err := reports.FindReport(ctx, report.ID)
	if err != nil {
		log.Fatalf("reload report: %v", err)
	}
	log.Printf("report %s after package approval: %s (office %s)", assigned.ID, assigned.State(), assigned.OfficeID)
	if assigned.State() != reporting.StateAssigned {
		log.Fatalf("expected assigned, got %s", assigned.State())
	}

	step("resolve", func() (*reporting.Report, error) {
		return reports.ResolveReport(ctx, report.ID, reporting.ResolutionApplicable, "maj_local", "updated valuation")
	})
	final := step("confirm", func() (*reporting.Report, error) { return reports.ConfirmReport(ctx, report.ID) })

	if final.State() != reporting.StateApproved {
		log.Fatalf("expected approved, got %s", final.State())
	}
	log.Println("workflow smoke passed")
}
