package simgrp

// newTransfer is the request body for originating a transfer block.
type newTransfer struct {
	OwnerID  string `json:"owner_id" validate:"required"`
	ChainID  string `json:"chain_id" validate:"required"`
	TargetID string `json:"target_id" validate:"required"`
}
