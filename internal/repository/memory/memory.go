package memory

import (
	"antifraud/internal/repository"
)

var (
	_ repository.TransactionRepository = (*TransactionRepository)(nil)
)
