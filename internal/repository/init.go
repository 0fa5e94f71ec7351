package repository

import (
	"log"

	"gorm.io/gorm"

	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/models"
)

type Repositories struct {
	DocumentRepository      interfaces.DocumentRepository
	CorrespondentRepository interfaces.CorrespondentRepository
	TagRepository           interfaces.TagRepository
	DocumentTypeRepository  interfaces.DocumentTypeRepository
	MailAccountRepository   interfaces.MailAccountRepository
	MailRuleRepository      interfaces.MailRuleRepository
	ProcessedMailRepository interfaces.ProcessedMailRepository
	TaskGroupRepository     interfaces.TaskGroupRepository
	TaskRecordRepository    interfaces.TaskRecordRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		DocumentRepository:      NewDocumentRepository(db),
		CorrespondentRepository: NewCorrespondentRepository(db),
		TagRepository:           NewTagRepository(db),
		DocumentTypeRepository:  NewDocumentTypeRepository(db),
		MailAccountRepository:   NewMailAccountRepository(db),
		MailRuleRepository:      NewMailRuleRepository(db),
		ProcessedMailRepository: NewProcessedMailRepository(db),
		TaskGroupRepository:     NewTaskGroupRepository(db),
		TaskRecordRepository:    NewTaskRecordRepository(db),
	}
}

func MigrateDB(db *gorm.DB) {
	err := db.AutoMigrate(
		&models.Correspondent{},
		&models.Tag{},
		&models.DocumentType{},
		&models.Document{},
		&models.MailAccount{},
		&models.MailRule{},
		&models.ProcessedMail{},
		&models.TaskGroup{},
		&models.TaskRecord{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
}
