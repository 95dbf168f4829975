package registry

import (
	id "orthoplus/pkg/domain"
)

// Catalog returns the product's module definitions.
//
// Editing this list is how modules ship: add the definition here and the
// dependency edges, menu routes, and access checks all follow from it.
func Catalog() []Definition {
	return []Definition{
		{
			Key:        id.ModulePacientes,
			Name:       "Pacientes",
			Category:   "clinical",
			MenuRoutes: []string{"/pacientes", "/pacientes/prontuario"},
		},
		{
			Key:        id.ModuleAgenda,
			Name:       "Agenda",
			Category:   "clinical",
			DependsOn:  []id.ModuleKey{id.ModulePacientes},
			MenuRoutes: []string{"/agenda", "/agenda/confirmacoes"},
		},
		{
			Key:        id.ModuleEstoque,
			Name:       "Estoque",
			Category:   "operations",
			MenuRoutes: []string{"/estoque"},
		},
		{
			Key:        id.ModuleFinanceiro,
			Name:       "Financeiro",
			Category:   "financial",
			MenuRoutes: []string{"/financeiro", "/financeiro/contas"},
		},
		{
			Key:        id.ModuleCRM,
			Name:       "CRM",
			Category:   "growth",
			DependsOn:  []id.ModuleKey{id.ModuleFinanceiro},
			MenuRoutes: []string{"/crm", "/crm/campanhas"},
		},
		{
			Key:        id.ModuleTeleodonto,
			Name:       "Teleodontologia",
			Category:   "clinical",
			DependsOn:  []id.ModuleKey{id.ModuleAgenda},
			MenuRoutes: []string{"/teleodonto"},
		},
		{
			Key:        id.ModuleCryptoPag,
			Name:       "Pagamentos em Cripto",
			Category:   "financial",
			DependsOn:  []id.ModuleKey{id.ModuleFinanceiro},
			MenuRoutes: []string{"/financeiro/cripto"},
		},
		{
			Key:        id.ModuleRelatorios,
			Name:       "Relatórios",
			Category:   "analytics",
			DependsOn:  []id.ModuleKey{id.ModuleFinanceiro},
			MenuRoutes: []string{"/relatorios"},
		},
	}
}

// MustLoadCatalog loads the built-in catalog, panicking on authoring errors.
// Intended for main and tests; the catalog is static so a failure here is a
// programming mistake, not a runtime condition.
func MustLoadCatalog() *Registry {
	r, err := Load(Catalog())
	if err != nil {
		panic(err)
	}
	return r
}
