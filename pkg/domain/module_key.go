package domain

import (
	"slices"
	"strings"

	dErrors "orthoplus/pkg/domain-errors"
)

// ModuleKey is the stable identifier of a product module (e.g. ESTOQUE,
// FINANCEIRO). Keys are upper-case with underscores; the registry is the
// single authority on which keys exist.
type ModuleKey string

// Known module keys. The registry catalog is built from these; routing and
// menu composition reference the same constants so the key set cannot drift
// between layers.
const (
	ModulePacientes  ModuleKey = "PACIENTES"
	ModuleAgenda     ModuleKey = "AGENDA"
	ModuleEstoque    ModuleKey = "ESTOQUE"
	ModuleFinanceiro ModuleKey = "FINANCEIRO"
	ModuleCRM        ModuleKey = "CRM"
	ModuleTeleodonto ModuleKey = "TELEODONTO"
	ModuleCryptoPag  ModuleKey = "CRYPTO_PAGAMENTOS"
	ModuleRelatorios ModuleKey = "RELATORIOS"
)

func (k ModuleKey) String() string { return string(k) }

// ParseModuleKey normalizes and validates a module key from request input.
// It does not check registry membership; that is the registry's call.
func ParseModuleKey(s string) (ModuleKey, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "module key is required")
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return "", dErrors.New(dErrors.CodeInvalidInput, "module key contains invalid characters")
		}
	}
	return ModuleKey(s), nil
}

// SortModuleKeys sorts a key slice in place and returns it. Resolver outputs
// are sorted so responses and audit reasons are deterministic.
func SortModuleKeys(keys []ModuleKey) []ModuleKey {
	slices.Sort(keys)
	return keys
}
