package ledger

import "github.com/hitoshi/donalert/internal/model"

// IsDuplicateRef は取引参照番号が既に使用済みかを返す。空文字は常にfalse。
func IsDuplicateRef(acc *model.Account, ref string) bool {
	if ref == "" {
		return false
	}
	for i := range acc.Donations {
		if acc.Donations[i].TransactionRef == ref {
			return true
		}
	}
	return false
}

// IsDuplicateDiscriminator はディスクリミネーターが既に使用済みかを返す。空文字は常にfalse。
func IsDuplicateDiscriminator(acc *model.Account, discriminator string) bool {
	if discriminator == "" {
		return false
	}
	for i := range acc.Donations {
		if acc.Donations[i].Discriminator == discriminator {
			return true
		}
	}
	return false
}

// CheckProof は参照番号とディスクリミネーターをそれぞれ独立に検査し、
// どちらかが使用済みであればDuplicateProofエラーを返す。
func CheckProof(acc *model.Account, ref, discriminator string) error {
	if IsDuplicateRef(acc, ref) {
		return model.NewDuplicateProofError("transaction_ref")
	}
	if IsDuplicateDiscriminator(acc, discriminator) {
		return model.NewDuplicateProofError("discriminator")
	}
	return nil
}

// ProofCheck はAppendの保護区間内で実行する重複検査を返す。
func ProofCheck(ref, discriminator string) Check {
	return func(acc *model.Account) error {
		return CheckProof(acc, ref, discriminator)
	}
}
