package services

import (
	"gorm.io/gorm"

	"github.com/docstack/docstack/config"
	"github.com/docstack/docstack/dto"
	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/filestore"
	"github.com/docstack/docstack/internal/logger"
	"github.com/docstack/docstack/internal/repository"
	"github.com/docstack/docstack/services/barcode"
	"github.com/docstack/docstack/services/consumer"
	"github.com/docstack/docstack/services/index"
	"github.com/docstack/docstack/services/mailroom"
	"github.com/docstack/docstack/services/notifier"
	"github.com/docstack/docstack/services/parser"
	"github.com/docstack/docstack/services/splitter"
	"github.com/docstack/docstack/services/tasks"
)

type Services struct {
	Store           *filestore.Store
	Registry        *parser.Registry
	IndexService    interfaces.IndexService
	Dispatcher      *tasks.RabbitMQDispatcher
	Worker          *tasks.Worker
	Notifier        *notifier.RabbitMQNotifier
	BarcodeService  *barcode.Service
	SplitterService *splitter.Service
	ConsumerService *consumer.ConsumerService
	MailroomService *mailroom.MailroomService
}

func InitServices(cfg *config.Config, log logger.Logger, db *gorm.DB, repos *repository.Repositories) (*Services, error) {
	store, err := filestore.NewStore(*cfg.StorageConfig)
	if err != nil {
		return nil, err
	}

	indexService, err := index.NewIndexService(*cfg.IndexConfig, log)
	if err != nil {
		return nil, err
	}

	dispatcher, err := tasks.NewRabbitMQDispatcher(cfg.AppConfig.RabbitMQURL, log, repos, nil)
	if err != nil {
		return nil, err
	}

	worker, err := tasks.NewWorker(cfg.AppConfig.RabbitMQURL, log, repos, dispatcher, cfg.AppConfig.WorkerCount)
	if err != nil {
		return nil, err
	}

	progressNotifier, err := notifier.NewRabbitMQNotifier(cfg.AppConfig.RabbitMQURL, log)
	if err != nil {
		return nil, err
	}

	registry := parser.DefaultRegistry()
	barcodeService := barcode.NewService(*cfg.BarcodeConfig, log)
	splitterService := splitter.NewService(log)

	consumerService := consumer.NewConsumerService(
		cfg, log, db, repos, store, registry,
		barcodeService, splitterService, indexService, dispatcher, progressNotifier,
	)
	mailroomService := mailroom.NewMailroomService(log, repos, store, registry, dispatcher)

	services := &Services{
		Store:           store,
		Registry:        registry,
		IndexService:    indexService,
		Dispatcher:      dispatcher,
		Worker:          worker,
		Notifier:        progressNotifier,
		BarcodeService:  barcodeService,
		SplitterService: splitterService,
		ConsumerService: consumerService,
		MailroomService: mailroomService,
	}
	services.registerTaskHandlers()
	return services, nil
}

// registerTaskHandlers binds every task type to its handler. An unbound task
// type on the queue is a deployment error and fails loudly.
func (s *Services) registerTaskHandlers() {
	s.Worker.RegisterHandler(dto.TaskConsumeFile, s.ConsumerService.HandleConsumeTask)
	s.Worker.RegisterHandler(dto.TaskUpdateDocumentArchive, s.ConsumerService.HandleUpdateDocumentArchive)
	s.Worker.RegisterHandler(dto.TaskBulkUpdateDocuments, s.ConsumerService.HandleBulkUpdateDocuments)
	s.Worker.RegisterHandler(dto.TaskIndexOptimize, s.ConsumerService.HandleIndexOptimize)
	s.Worker.RegisterHandler(dto.TaskSanityCheck, s.ConsumerService.HandleSanityCheck)
	s.Worker.RegisterHandler(dto.TaskProcessMailAccounts, s.MailroomService.HandleProcessMailAccounts)
	s.Worker.RegisterHandler(dto.TaskApplyMailAction, s.MailroomService.HandleMailActionTask)
	s.Worker.RegisterHandler(dto.TaskMailActionError, s.MailroomService.HandleMailActionError)
}

func (s *Services) Close() {
	if s.Worker != nil {
		_ = s.Worker.Close()
	}
	if s.Dispatcher != nil {
		_ = s.Dispatcher.Close()
	}
	if s.Notifier != nil {
		_ = s.Notifier.Close()
	}
	if s.IndexService != nil {
		_ = s.IndexService.Close()
	}
}
