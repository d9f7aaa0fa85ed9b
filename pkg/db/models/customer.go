package models

import (
	"time"

	"github.com/angelmondragon/gridpay-backend/pkg/enums"
)

// Customer is the account holder billed for one or more connections.
type Customer struct {
	ID                uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Name              string    `gorm:"column:name;not null"`
	Email             *string   `gorm:"column:email"`
	GatewayCustomerID *string   `gorm:"column:gateway_customer_id"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Connection is a metered service point owned by a customer.
type Connection struct {
	ID            uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	CustomerID    uint64    `gorm:"column:customer_id;not null"`
	AccountNumber string    `gorm:"column:account_number;not null"`
	Status        string    `gorm:"column:status;not null;default:active"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`

	Customer *Customer `gorm:"foreignKey:CustomerID"`
}

// Employee is a back-office staff member who takes or reverses payments.
type Employee struct {
	ID        uint64             `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string             `gorm:"column:name;not null"`
	Email     string             `gorm:"column:email;not null"`
	Role      enums.EmployeeRole `gorm:"column:role;not null"`
	Active    bool               `gorm:"column:active;not null;default:true"`
	CreatedAt time.Time          `gorm:"column:created_at;autoCreateTime"`
}
