// Package testutil provides the shared business-partner schema and a seeded
// SQLite database used by package tests.
package testutil

import (
	"testing"

	"tidb-odata/internal/metamodel"
)

// SchemaYAML describes the fixture model: organizations with an embedded
// postal address, change information nested two levels deep, roles, media
// entities and a self-referencing administrative division hierarchy.
const SchemaYAML = `
namespace: Example
complexTypes:
  - name: PostalAddress
    properties:
      - {name: StreetName, column: street_name}
      - {name: HouseNumber, column: house_number}
      - {name: POBox, column: po_box, nullable: true}
      - {name: PostalCode, column: postal_code}
      - {name: CityName, column: city_name, searchable: true}
      - {name: Country, column: address_country}
      - {name: Region, column: region}
      - name: CountryName
        description:
          table: country_descriptions
          column: name
          join: [{local: address_country, remote: iso_code}]
      - name: AdministrativeDivision
        navigation:
          target: AdministrativeDivision
          multiplicity: one
          join: [{local: region, remote: division_code}]
  - name: ChangeInformation
    properties:
      - {name: By, column: by}
      - {name: At, column: at, type: DateTimeOffset, nullable: true}
  - name: AdministrativeInformation
    properties:
      - {name: Created, complexType: ChangeInformation, columnPrefix: created_}
      - {name: Updated, complexType: ChangeInformation, columnPrefix: updated_}
entityTypes:
  - name: Organization
    entitySet: Organizations
    table: organizations
    keys: [ID]
    properties:
      - {name: ID, column: id}
      - {name: Type, column: type}
      - {name: Name1, column: name1, searchable: true}
      - {name: Name2, column: name2, nullable: true}
      - {name: Country, column: country}
      - {name: Address, complexType: PostalAddress}
      - {name: AdministrativeInformation, complexType: AdministrativeInformation}
      - {name: ETag, column: etag, type: Int64, version: true}
      - {name: InternalNote, column: internal_note, ignore: true, nullable: true}
      - name: Roles
        navigation:
          target: BusinessPartnerRole
          multiplicity: many
          join: [{local: id, remote: business_partner_id}]
      - name: Image
        navigation:
          target: OrganizationImage
          multiplicity: one
          join: [{local: id, remote: id}]
  - name: BusinessPartnerRole
    entitySet: BusinessPartnerRoles
    table: business_partner_roles
    keys: [BusinessPartnerID, RoleCategory]
    properties:
      - {name: BusinessPartnerID, column: business_partner_id}
      - {name: RoleCategory, column: role_category}
      - name: Organization
        navigation:
          target: Organization
          multiplicity: one
          join: [{local: business_partner_id, remote: id}]
  - name: OrganizationImage
    entitySet: OrganizationImages
    table: organization_images
    keys: [ID]
    properties:
      - {name: ID, column: id}
      - name: Image
        column: image
        media: {contentType: image/png}
  - name: PersonImage
    entitySet: PersonImages
    table: person_images
    keys: [PersonID]
    properties:
      - {name: PersonID, column: person_id}
      - name: Image
        column: image
        media: {contentTypeProperty: MimeType}
      - {name: MimeType, column: mime_type}
  - name: AdministrativeDivision
    entitySet: AdministrativeDivisions
    table: administrative_divisions
    keys: [CodePublisher, CodeID, DivisionCode]
    properties:
      - {name: CodePublisher, column: code_publisher}
      - {name: CodeID, column: code_id}
      - {name: DivisionCode, column: division_code}
      - {name: CountryCode, column: country_code}
      - {name: ParentCodeID, column: parent_code_id, nullable: true}
      - {name: ParentDivisionCode, column: parent_division_code, nullable: true}
      - {name: Population, column: population, type: Int64}
      - {name: Area, column: area, type: Int32}
      - name: Parent
        navigation:
          target: AdministrativeDivision
          multiplicity: one
          join:
            - {local: code_publisher, remote: code_publisher}
            - {local: parent_code_id, remote: code_id}
            - {local: parent_division_code, remote: division_code}
      - name: Children
        navigation:
          target: AdministrativeDivision
          multiplicity: many
          join:
            - {local: code_publisher, remote: code_publisher}
            - {local: code_id, remote: parent_code_id}
            - {local: division_code, remote: parent_division_code}
`

// Schema builds the fixture schema, failing the test on error.
func Schema(t testing.TB) *metamodel.Schema {
	t.Helper()
	schema, err := metamodel.Parse([]byte(SchemaYAML))
	if err != nil {
		t.Fatalf("build fixture schema: %v", err)
	}
	return schema
}

// EntityType returns a fixture entity type by name.
func EntityType(t testing.TB, schema *metamodel.Schema, name string) *metamodel.EntityType {
	t.Helper()
	et, ok := schema.EntityType(name)
	if !ok {
		t.Fatalf("fixture entity type %s not found", name)
	}
	return et
}
