package access

// Permission codes checked by the HTTP layer.
const (
	CreateDossier     = "CREATE_DOSSIER"
	ViewDossiers      = "VIEW_DOSSIERS"
	ViewDossier       = "VIEW_DOSSIER"
	UpdateDossier     = "UPDATE_DOSSIER"
	DeleteDossier     = "DELETE_DOSSIER"
	EditEtat          = "EDIT_ETAT"
	ViewInstruction   = "VIEW_INSTRUCTION"
	AddInstruction    = "ADD_INSTRUCTION"
	EditInstruction   = "EDIT_INSTRUCTION"
	DeleteInstruction = "DELETE_INSTRUCTION"
	ViewDivision      = "VIEW_DIVISION"
	AddDivision       = "ADD_DIVISION"
	EditDivision      = "EDIT_DIVISION"
	DeleteDivision    = "DELETE_DIVISION"
	ViewService       = "VIEW_SERVICE"
	AddService        = "ADD_SERVICE"
	EditService       = "EDIT_SERVICE"
	DeleteService     = "DELETE_SERVICE"
	ManageUsers       = "MANAGE_USERS"
	ViewReporting     = "VIEW_REPORTING"
)

// AllPermissions lists every code in a stable order.
func AllPermissions() []string {
	return []string{
		CreateDossier, ViewDossiers, ViewDossier, UpdateDossier, DeleteDossier, EditEtat,
		ViewInstruction, AddInstruction, EditInstruction, DeleteInstruction,
		ViewDivision, AddDivision, EditDivision, DeleteDivision,
		ViewService, AddService, EditService, DeleteService,
		ManageUsers, ViewReporting,
	}
}
