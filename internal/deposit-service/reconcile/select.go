package reconcile

import (
	"slices"
	"strings"

	"github.com/radieske/pix-deposit-service/internal/deposit-service/repo"
)

// SelectCandidate escolhe o depósito a creditar entre os PENDING de um usuário:
// maior valor; empate -> criado mais recentemente (id desempata de forma estável).
// Os demais são devolvidos como irmãos a cancelar. ok=false se a lista estiver vazia.
// Só o maior valor é creditado, nunca a soma.
func SelectCandidate(pending []repo.Transaction) (candidate repo.Transaction, siblings []repo.Transaction, ok bool) {
	if len(pending) == 0 {
		return repo.Transaction{}, nil, false
	}

	sorted := slices.Clone(pending)
	slices.SortStableFunc(sorted, func(a, b repo.Transaction) int {
		if c := b.Amount.Cmp(a.Amount); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	return sorted[0], sorted[1:], true
}
