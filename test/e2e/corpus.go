// Package e2e runs the ingestion pipeline and search over a generated candidate corpus.
package e2e

import (
	"fmt"

	"github.com/hyperjump/jinzai/internal/models"
)

// QueryTestCase is a query and the candidate that must rank first for it.
type QueryTestCase struct {
	Query       string
	Field       models.FieldType
	ExpectedID  string
	Description string
}

// Corpus holds candidate documents and query test cases.
type Corpus struct {
	Documents    []*models.DocumentInput
	TestCases    []QueryTestCase
	TotalDocs    int
	TotalQueries int
}

type profile struct {
	role   string
	skills string
	school string
	cert   string
}

var profiles = []profile{
	{"backend engineer", "Go, PostgreSQL, gRPC", "BSc Computer Science", "CKA"},
	{"frontend developer", "TypeScript, React, CSS", "BA Interaction Design", ""},
	{"data scientist", "Python, pandas, scikit-learn", "MSc Statistics", "TensorFlow Developer"},
	{"site reliability engineer", "Kubernetes, Terraform, Prometheus", "BEng Software Engineering", "AWS Solutions Architect"},
	{"mobile developer", "Kotlin, Swift, Flutter", "BSc Information Systems", ""},
	{"security analyst", "threat modelling, SIEM, incident response", "BSc Cyber Security", "CISSP"},
	{"machine learning engineer", "PyTorch, CUDA, model serving", "PhD Machine Learning", ""},
	{"database administrator", "MySQL, replication, query tuning", "BSc Mathematics", "Oracle DBA"},
	{"product designer", "Figma, user research, prototyping", "BA Graphic Design", ""},
	{"embedded engineer", "C, RTOS, ARM Cortex-M", "BEng Electronics", ""},
}

var seniorities = []string{"Junior", "Mid-level", "Senior", "Staff", "Principal", "Lead"}

// BuildCorpus returns 60 candidates, one per profile and seniority, and one query per
// candidate on its skills field.
func BuildCorpus() *Corpus {
	var docs []*models.DocumentInput
	for i, s := range seniorities {
		for j, p := range profiles {
			n := i*len(profiles) + j
			experience := fmt.Sprintf("Worked as %s at company %d. Led a team of %d people. "+
				"Shipped %d releases of the flagship product.", p.role, n, i+1, n+3)
			docs = append(docs, &models.DocumentInput{
				ID:             fmt.Sprintf("cand-%03d", n),
				Summary:        fmt.Sprintf("%s %s with %d years of experience.", s, p.role, i*2+1),
				Skills:         fmt.Sprintf("%s, project %d", p.skills, n),
				Experience:     experience,
				Education:      p.school,
				Certifications: p.cert,
			})
		}
	}
	cases := make([]QueryTestCase, 0, len(docs))
	for _, d := range docs {
		cases = append(cases, QueryTestCase{
			Query:       "skills: " + d.Skills,
			Field:       models.FieldSkills,
			ExpectedID:  d.ID,
			Description: "skills of " + d.ID,
		})
	}
	return &Corpus{
		Documents:    docs,
		TestCases:    cases,
		TotalDocs:    len(docs),
		TotalQueries: len(cases),
	}
}
