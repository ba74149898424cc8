package models

import "github.com/cloudfocus/tbilling_backend/config"

// MigrateTable automigrates every billing entity. Shared reference tables
// first, then the ledgers that point at them.
func MigrateTable() {
	db := config.GetDB()
	err := db.AutoMigrate(
		&AwsAccount{},
		&Service{},
		&RootInvoice{},
		&AccountService{},
		&AWSAccountInvoice{},
		&AwsCostManagement{},
		&MonthlyCostByAccount{},
		&ChangeLog{},
	)
	if err != nil {
		panic(err)
	}
}
