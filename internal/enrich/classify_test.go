package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jusbridge/casesync/pkg/judit"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		lawsuit judit.Lawsuit
		want    string
	}{
		{
			name: "structured classification preferred",
			lawsuit: judit.Lawsuit{
				Classifications: []judit.Classification{{Name: "Reclamação Trabalhista"}},
				Subjects:        []judit.Subject{{Name: "Execução Fiscal"}},
			},
			want: "labor",
		},
		{
			name: "falls back to subjects",
			lawsuit: judit.Lawsuit{
				Classifications: []judit.Classification{{Name: "Procedimento Comum"}},
				Subjects:        []judit.Subject{{Name: "Direito do Consumidor"}},
			},
			want: "consumer",
		},
		{
			name: "accented tax class",
			lawsuit: judit.Lawsuit{
				Classifications: []judit.Classification{{Name: "Execução Fiscal"}},
			},
			want: "tax",
		},
		{
			name: "criminal",
			lawsuit: judit.Lawsuit{
				Classifications: []judit.Classification{{Name: "Ação Penal"}},
			},
			want: "criminal",
		},
		{
			name: "family",
			lawsuit: judit.Lawsuit{
				Subjects: []judit.Subject{{Name: "Alimentos"}},
			},
			want: "family",
		},
		{
			name:    "nothing recognized leaves type unchanged",
			lawsuit: judit.Lawsuit{Classifications: []judit.Classification{{Name: "Procedimento Comum"}}},
			want:    "",
		},
		{
			name:    "empty payload",
			lawsuit: judit.Lawsuit{},
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(&tt.lawsuit))
		})
	}
}
